package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// MinInterval is the shortest sweep interval accepted.
const MinInterval = 10 * time.Second

// Schedule runs the sweeper every interval until ctx is done. Overlapping
// ticks are skipped rather than queued.
type Schedule struct {
	cron   *cron.Cron
	logger *logging.Logger
}

func NewSchedule(ctx context.Context, sweeper *Sweeper, interval time.Duration, logger *logging.Logger) (*Schedule, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		sweeper.Tick(ctx)
	}); err != nil {
		return nil, fmt.Errorf("reminders: schedule sweep: %w", err)
	}
	logger.Info("appointment reminder sweeper scheduled", "interval", interval.String())
	return &Schedule{cron: c, logger: logger}, nil
}

func (s *Schedule) Start() {
	s.cron.Start()
}

// Stop prevents further ticks and waits for a running one to finish or ctx
// to expire.
func (s *Schedule) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("reminder sweep still running at shutdown")
	}
}
