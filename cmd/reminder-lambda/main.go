package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/clinic-booking-platform/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-platform/internal/app/bootstrap"
	"github.com/wolfman30/clinic-booking-platform/internal/appointments"
	appconfig "github.com/wolfman30/clinic-booking-platform/internal/config"
	"github.com/wolfman30/clinic-booking-platform/internal/notify"
	"github.com/wolfman30/clinic-booking-platform/internal/profiles"
	"github.com/wolfman30/clinic-booking-platform/internal/reminders"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// ticker runs one reminder sweep.
type ticker interface {
	Tick(ctx context.Context) reminders.Result
}

type response struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`
	Skipped    int `json:"skipped"`
	Lost       int `json:"lost"`
	Failed     int `json:"failed"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	sweeper, cleanup, err := buildSweeper(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("reminder lambda init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (response, error) {
		return handle(ctx, sweeper, logger, evt)
	})
}

// handle runs exactly one sweep per scheduled invocation. Failed reminders
// were released by the sweeper and are retried by the next invocation, so
// the invocation itself only fails when nothing could be attempted.
func handle(ctx context.Context, sweeper ticker, logger *logging.Logger, evt events.CloudWatchEvent) (response, error) {
	result := sweeper.Tick(ctx)
	logger.Info("reminder sweep invoked",
		"event_id", evt.ID,
		"candidates", result.Candidates,
		"sent", result.Sent,
		"skipped", result.Skipped,
		"lost", result.Lost,
		"failed", result.Failed,
	)
	resp := response(result)
	if result.Candidates > 0 && result.Failed == result.Candidates {
		return resp, fmt.Errorf("all %d reminders failed", result.Failed)
	}
	return resp, nil
}

func buildSweeper(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*reminders.Sweeper, func(), error) {
	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	emailSender, provider := bootstrap.BuildEmailSender(cfg, sesv2.NewFromConfig(awsCfg), logger)
	logger.Info("email provider selected", "provider", provider)
	mailer := notify.NewService(emailSender, nil, logger)

	sweeper := reminders.NewSweeper(appointments.NewPostgresStore(pool), profiles.NewStore(pool), mailer, logger).
		WithTiming(cfg.ReminderLead, cfg.ReminderWindow).
		WithLocation(bootstrap.ClinicLocation(cfg.ClinicTimezone, logger))
	return sweeper, pool.Close, nil
}
