package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-platform/internal/blobstore"
	appconfig "github.com/wolfman30/clinic-booking-platform/internal/config"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

func TestSetupMetricsExposesClinicMetrics(t *testing.T) {
	handler, clinicMetrics := setupMetrics()
	require.NotNil(t, handler)
	require.NotNil(t, clinicMetrics)

	clinicMetrics.ObserveBooking("create", "ok")
	clinicMetrics.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, time.Millisecond)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "clinic_appointments_operations_total")
	assert.Contains(t, rr.Body.String(), "clinic_http_request_duration_seconds")
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestMetricsEndpointHonoursToggle(t *testing.T) {
	handler := http.NotFoundHandler()
	assert.Nil(t, metricsEndpoint(&appconfig.Config{MetricsEnabled: false}, handler))
	assert.NotNil(t, metricsEndpoint(&appconfig.Config{MetricsEnabled: true}, handler))
}

func TestBuildBlobStoreFallsBackToMemory(t *testing.T) {
	logger := logging.New("error")
	store := buildBlobStore(&appconfig.Config{}, nil, logger)
	_, ok := store.(*blobstore.MemoryStore)
	assert.True(t, ok)

	store = buildBlobStore(&appconfig.Config{BlobBucket: "clinic-chat"}, nil, logger)
	_, ok = store.(*blobstore.S3Store)
	assert.True(t, ok)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestReadinessChecks(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	checks := readinessChecks(stubPinger{err: errors.New("down")}, rdb)
	require.Len(t, checks, 2)
	assert.Error(t, checks["postgres"](context.Background()))
	assert.NoError(t, checks["redis"](context.Background()))

	assert.Empty(t, readinessChecks(nil, nil))
}
