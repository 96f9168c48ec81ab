package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// VelocityChecker caps booking attempts per patient within a rolling
// window using a Redis counter.
type VelocityChecker struct {
	redis  *redis.Client
	max    int
	window time.Duration
	logger *logging.Logger
}

// NewVelocityChecker creates a checker allowing max attempts per window.
func NewVelocityChecker(client *redis.Client, max int, window time.Duration, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	if max <= 0 {
		max = 20
	}
	if window <= 0 {
		window = time.Hour
	}
	return &VelocityChecker{redis: client, max: max, window: window, logger: logger}
}

// Allow counts one attempt and reports whether it is within the limit.
// Redis failures allow the attempt.
func (v *VelocityChecker) Allow(ctx context.Context, patientID string) bool {
	if v == nil || v.redis == nil {
		return true
	}
	ctx, span := tracer.Start(ctx, "velocity.check_booking")
	defer span.End()

	key := fmt.Sprintf("velocity:booking:%s", patientID)
	count, err := v.incrementAndGet(ctx, key)
	if err != nil {
		v.logger.Error("booking velocity check failed", "error", err, "key", key)
		return true
	}
	if count > v.max {
		v.logger.Warn("booking velocity exceeded",
			"patient_id", patientID,
			"count", count,
			"max", v.max,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
		return false
	}
	return true
}

// Reset clears the counter for a patient.
func (v *VelocityChecker) Reset(ctx context.Context, patientID string) error {
	return v.redis.Del(ctx, fmt.Sprintf("velocity:booking:%s", patientID)).Err()
}

func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string) (int, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// Expiry is set on the first increment so the window is fixed.
	if count == 1 {
		v.redis.Expire(ctx, key, v.window)
	}
	return int(count), nil
}
