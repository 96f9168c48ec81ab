package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-platform/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-platform/internal/api/router"
	"github.com/wolfman30/clinic-booking-platform/internal/app/bootstrap"
	"github.com/wolfman30/clinic-booking-platform/internal/appointments"
	"github.com/wolfman30/clinic-booking-platform/internal/async"
	"github.com/wolfman30/clinic-booking-platform/internal/auth"
	"github.com/wolfman30/clinic-booking-platform/internal/blobstore"
	"github.com/wolfman30/clinic-booking-platform/internal/chat"
	"github.com/wolfman30/clinic-booking-platform/internal/compliance"
	appconfig "github.com/wolfman30/clinic-booking-platform/internal/config"
	"github.com/wolfman30/clinic-booking-platform/internal/e2ee"
	"github.com/wolfman30/clinic-booking-platform/internal/events"
	httpmiddleware "github.com/wolfman30/clinic-booking-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-platform/internal/notify"
	"github.com/wolfman30/clinic-booking-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-platform/internal/payments"
	"github.com/wolfman30/clinic-booking-platform/internal/profiles"
	"github.com/wolfman30/clinic-booking-platform/internal/reminders"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		return fmt.Errorf("redis is required for the chat offline queue")
	}
	defer func() { _ = redisClient.Close() }()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	metricsHandler, clinicMetrics := setupMetrics()
	loc := bootstrap.ClinicLocation(cfg.ClinicTimezone, logger)
	runner := async.NewRunner(logger).WithObserver(clinicMetrics)

	// Notifications
	emailSender, provider := bootstrap.BuildEmailSender(cfg, sesv2.NewFromConfig(awsCfg), logger)
	notifier := notify.NewService(emailSender, bootstrap.BuildPushSender(cfg, logger), logger)
	logger.Info("email provider selected", "provider", provider)

	// Stores
	profileStore := profiles.NewStore(pool)
	appointmentStore := appointments.NewPostgresStore(pool)
	outbox := events.NewOutboxStore(pool)
	audit := compliance.NewAuditService(stdlib.OpenDBFromPool(pool))

	// Chat
	hub := chat.NewHub(logger)
	queue := chat.NewOfflineQueue(redisClient, cfg.ChatOfflineTTL, logger)
	chatService := chat.NewService(chat.NewPostgresStore(pool), queue, hub, logger).
		WithMetrics(clinicMetrics).
		WithMaxFileBytes(cfg.ChatMaxFileBytes).
		WithBlobs(buildBlobStore(cfg, s3.NewFromConfig(awsCfg), logger))

	// Appointments
	effects := appointments.NewEffects(runner, profileStore, logger).
		WithMailer(notifier).
		WithPusher(notifier).
		WithChat(chatService).
		WithBroadcaster(hub).
		WithOutbox(outbox).
		WithAudit(audit).
		WithLocation(loc)
	appointmentService := appointments.NewService(appointmentStore, profileStore, logger).
		WithNotifier(effects).
		WithVelocity(appointments.NewVelocityChecker(redisClient, cfg.BookingVelocityMax, cfg.BookingVelocityWindow, logger)).
		WithMetrics(clinicMetrics).
		WithPolicy(appointments.Policy{
			StepMinutes:      cfg.SlotStepMinutes,
			LeadTime:         cfg.BookingLeadTime,
			RescheduleNotice: cfg.RescheduleMinNotice,
			SelfDailyQuota:   cfg.SelfDailyQuota,
			FamilyDailyQuota: cfg.FamilyDailyQuota,
			Location:         loc,
			PaymentsEnabled:  cfg.PaymentsEnabled,
		})

	// Payments
	gateway := payments.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, logger).WithBaseURL(cfg.RazorpayBaseURL)
	paymentService := payments.NewService(payments.Config{
		Enabled:       cfg.PaymentsEnabled && gateway.Enabled(),
		KeySecret:     cfg.RazorpayKeySecret,
		WebhookSecret: cfg.RazorpayWebhookSecret,
	}, appointmentStore, gateway, logger).
		WithProcessed(events.NewProcessedStore(pool)).
		WithRecorder(effects)

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if queueURL := strings.TrimSpace(cfg.AppointmentEventsQueueURL); queueURL != "" {
		deliverer := events.NewDeliverer(outbox, events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), queueURL), logger)
		go deliverer.Start(workerCtx)
	} else {
		logger.Warn("APPOINTMENT_EVENTS_QUEUE_URL not set; outbox events stay pending")
	}

	var schedule *reminders.Schedule
	if cfg.ReminderEnabled {
		sweeper := reminders.NewSweeper(appointmentStore, profileStore, notifier, logger).
			WithTiming(cfg.ReminderLead, cfg.ReminderWindow).
			WithLocation(loc).
			WithMetrics(clinicMetrics)
		schedule, err = reminders.NewSchedule(workerCtx, sweeper, cfg.ReminderInterval, logger)
		if err != nil {
			return err
		}
		schedule.Start()
	}

	// HTTP
	verifier := auth.NewVerifier(cfg.JWTSecret, "")
	if !verifier.Enabled() {
		logger.Warn("JWT_SECRET not set; authenticated routes will reject every request")
	}
	profileHandler := profiles.NewHandler(profileStore, cfg.SlotStepMinutes, logger)
	r := router.New(&router.Config{
		Logger:             logger,
		Health:             router.NewHealthHandler(readinessChecks(pool, redisClient)),
		Profiles:           profileHandler,
		Appointments:       appointments.NewHandler(appointmentService, logger),
		Chat:               chat.NewHandler(chatService, cfg.ChatMaxFileBytes, logger),
		Socket:             chat.NewSocketHandler(chatService, hub, verifier, profileStore, cfg.CORSAllowedOrigins, logger),
		Payments:           payments.NewHandler(paymentService, logger),
		Keys:               e2ee.NewHandler(e2ee.NewStore(pool), logger),
		Audit:              compliance.NewHandler(audit, logger),
		Authenticate:       httpmiddleware.Authenticate(verifier, profileStore, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsEndpoint(cfg, metricsHandler),
		RequestObserver:    clinicMetrics,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if schedule != nil {
		schedule.Stop(shutdownCtx)
	}
	cancelWorkers()
	if err := runner.Wait(shutdownCtx); err != nil {
		logger.Warn("side effects still running at shutdown", "error", err)
	}
	return nil
}

func setupMetrics() (http.Handler, *metrics.ClinicMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewClinicMetrics(reg)
}

func metricsEndpoint(cfg *appconfig.Config, handler http.Handler) http.Handler {
	if cfg == nil || !cfg.MetricsEnabled {
		return nil
	}
	return handler
}

// buildBlobStore keeps chat attachments in S3 when a bucket is configured
// and in memory otherwise.
func buildBlobStore(cfg *appconfig.Config, client blobstore.S3API, logger *logging.Logger) chat.BlobStore {
	if cfg == nil || strings.TrimSpace(cfg.BlobBucket) == "" {
		logger.Warn("BLOB_BUCKET not set; chat attachments are kept in memory")
		return blobstore.NewMemoryStore()
	}
	return blobstore.NewS3Store(client, cfg.BlobBucket, "chat", logger)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func readinessChecks(pg pinger, rdb *redis.Client) map[string]router.Check {
	checks := map[string]router.Check{}
	if pg != nil {
		checks["postgres"] = pg.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}
