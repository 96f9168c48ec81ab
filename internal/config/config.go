package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	PublicBaseURL      string
	LogLevel           string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	JWTSecret          string
	AdminJWTSecret     string
	CORSAllowedOrigins []string
	MetricsEnabled     bool
	RateLimitRPS       float64
	RateLimitBurst     int

	// Scheduling
	ClinicTimezone      string
	SlotStepMinutes     int
	BookingLeadTime     time.Duration
	RescheduleMinNotice time.Duration
	SelfDailyQuota      int
	FamilyDailyQuota    int

	// Booking velocity guard
	BookingVelocityMax    int
	BookingVelocityWindow time.Duration

	// Reminder sweeper
	ReminderEnabled  bool
	ReminderInterval time.Duration
	ReminderWindow   time.Duration
	ReminderLead     time.Duration

	// Chat
	ChatOfflineTTL   time.Duration
	ChatMaxFileBytes int64

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string

	// AWS
	AWSRegion                 string
	AWSAccessKeyID            string
	AWSSecretAccessKey        string
	AWSEndpointOverride       string
	BlobBucket                string
	AppointmentEventsQueueURL string

	// Push
	OneSignalAppID  string
	OneSignalAPIKey string

	// Payments
	PaymentsEnabled       bool
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisAddr:          getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		MetricsEnabled:     getEnvAsBool("METRICS_ENABLED", true),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),

		ClinicTimezone:      getEnv("CLINIC_TIMEZONE", "UTC"),
		SlotStepMinutes:     getEnvAsInt("SLOT_STEP_MINUTES", 15),
		BookingLeadTime:     getEnvAsDuration("BOOKING_LEAD_TIME", 2*time.Hour),
		RescheduleMinNotice: getEnvAsDuration("RESCHEDULE_MIN_NOTICE", 24*time.Hour),
		SelfDailyQuota:      getEnvAsInt("SELF_DAILY_QUOTA", 1),
		FamilyDailyQuota:    getEnvAsInt("FAMILY_DAILY_QUOTA", 10),

		BookingVelocityMax:    getEnvAsInt("BOOKING_VELOCITY_MAX", 20),
		BookingVelocityWindow: getEnvAsDuration("BOOKING_VELOCITY_WINDOW", time.Hour),

		ReminderEnabled:  getEnvAsBool("APPOINTMENT_REMINDER_ENABLED", true),
		ReminderInterval: reminderInterval(getEnvAsInt("APPOINTMENT_REMINDER_INTERVAL_SECONDS", 60)),
		ReminderWindow:   time.Duration(getEnvAsInt("APPOINTMENT_REMINDER_WINDOW_MINUTES", 2)) * time.Minute,
		ReminderLead:     time.Duration(getEnvAsInt("APPOINTMENT_REMINDER_LEAD_MINUTES", 90)) * time.Minute,

		ChatOfflineTTL:   time.Duration(getEnvAsInt("CHAT_OFFLINE_TTL_SECONDS", 48*60*60)) * time.Second,
		ChatMaxFileBytes: int64(getEnvAsInt("CHAT_MAX_FILE_BYTES", 10<<20)),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Booking"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Clinic Booking"),

		AWSRegion:                 getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:            getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:        getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:       getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BlobBucket:                getEnv("BLOB_BUCKET", ""),
		AppointmentEventsQueueURL: getEnv("APPOINTMENT_EVENTS_QUEUE_URL", ""),

		OneSignalAppID:  getEnv("ONESIGNAL_APP_ID", ""),
		OneSignalAPIKey: getEnv("ONESIGNAL_API_KEY", ""),

		PaymentsEnabled:       getEnvAsBool("PAYMENTS_ENABLED", false),
		RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		RazorpayBaseURL:       getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
	}
}

// reminderInterval never lets the sweeper tick faster than every 10 seconds.
func reminderInterval(seconds int) time.Duration {
	if seconds < 10 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
