package main

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-platform/internal/reminders"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

type fixedTicker struct {
	result reminders.Result
	calls  int
}

func (f *fixedTicker) Tick(ctx context.Context) reminders.Result {
	f.calls++
	return f.result
}

func TestHandleRunsOneSweep(t *testing.T) {
	sweeper := &fixedTicker{result: reminders.Result{Candidates: 3, Sent: 2, Lost: 1}}

	resp, err := handle(context.Background(), sweeper, logging.New("error"), events.CloudWatchEvent{ID: "evt-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, sweeper.calls)
	assert.Equal(t, response{Candidates: 3, Sent: 2, Lost: 1}, resp)
}

func TestHandleEmptyWindow(t *testing.T) {
	resp, err := handle(context.Background(), &fixedTicker{}, logging.New("error"), events.CloudWatchEvent{})
	require.NoError(t, err)
	assert.Zero(t, resp.Candidates)
}

func TestHandleReportsTotalFailure(t *testing.T) {
	sweeper := &fixedTicker{result: reminders.Result{Candidates: 2, Failed: 2}}
	resp, err := handle(context.Background(), sweeper, logging.New("error"), events.CloudWatchEvent{})
	require.Error(t, err)
	assert.Equal(t, 2, resp.Failed)
}

func TestHandlePartialFailureSucceeds(t *testing.T) {
	sweeper := &fixedTicker{result: reminders.Result{Candidates: 2, Sent: 1, Failed: 1}}
	_, err := handle(context.Background(), sweeper, logging.New("error"), events.CloudWatchEvent{})
	assert.NoError(t, err)
}
