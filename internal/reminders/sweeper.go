// Package reminders sends one reminder email per confirmed appointment shortly
// before it starts. Any number of sweepers may run; the conditional claim on
// reminder_email_sent_at makes sure only one of them sends.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-platform/internal/appointments"
	"github.com/wolfman30/clinic-booking-platform/internal/notify"
	"github.com/wolfman30/clinic-booking-platform/internal/profiles"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.reminders")

const (
	DefaultLead      = 90 * time.Minute
	DefaultWindow    = 2 * time.Minute
	DefaultBatchSize = 200
)

// Store is the slice of the appointment store the sweeper needs.
type Store interface {
	ListReminderCandidates(ctx context.Context, from, to time.Time, limit int) ([]appointments.Appointment, error)
	ClaimReminder(ctx context.Context, id uuid.UUID, at time.Time) (*appointments.Appointment, bool, error)
	ReleaseReminder(ctx context.Context, id uuid.UUID, claimedAt time.Time) error
}

type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*profiles.Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*profiles.Patient, error)
}

type Mailer interface {
	SendAppointmentEmail(ctx context.Context, kind notify.AppointmentEmailKind, d notify.AppointmentDetails) error
}

// Metrics records one outcome per candidate: sent, skipped, lost, failed.
type Metrics interface {
	ObserveReminder(outcome string)
}

// Result summarises a single tick.
type Result struct {
	Candidates int
	Sent       int
	Skipped    int
	Lost       int
	Failed     int
}

// Sweeper finds appointments starting roughly Lead from now and emails the
// patient once.
type Sweeper struct {
	store     Store
	directory Directory
	mailer    Mailer
	metrics   Metrics
	logger    *logging.Logger
	lead      time.Duration
	window    time.Duration
	batch     int
	location  *time.Location
	now       func() time.Time
}

func NewSweeper(store Store, directory Directory, mailer Mailer, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		store:     store,
		directory: directory,
		mailer:    mailer,
		logger:    logger,
		lead:      DefaultLead,
		window:    DefaultWindow,
		batch:     DefaultBatchSize,
		location:  time.UTC,
		now:       time.Now,
	}
}

// WithTiming overrides the lead and the half-width of the match window.
// Non-positive values keep the defaults.
func (s *Sweeper) WithTiming(lead, window time.Duration) *Sweeper {
	if lead > 0 {
		s.lead = lead
	}
	if window > 0 {
		s.window = window
	}
	return s
}

func (s *Sweeper) WithLocation(loc *time.Location) *Sweeper {
	if loc != nil {
		s.location = loc
	}
	return s
}

func (s *Sweeper) WithMetrics(m Metrics) *Sweeper {
	s.metrics = m
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

// Tick runs one sweep. A failed candidate query is logged and the tick is
// skipped; per-appointment failures never stop the rest of the batch.
func (s *Sweeper) Tick(ctx context.Context) Result {
	ctx, span := tracer.Start(ctx, "reminders.tick")
	defer span.End()

	now := s.now()
	target := now.Add(s.lead)
	candidates, err := s.store.ListReminderCandidates(ctx, target.Add(-s.window), target.Add(s.window), s.batch)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("reminder sweep: list candidates failed", "error", err)
		return Result{}
	}

	res := Result{Candidates: len(candidates)}
	span.SetAttributes(attribute.Int("clinic.reminder_candidates", len(candidates)))
	for i := range candidates {
		outcome := s.remind(ctx, &candidates[i], now)
		switch outcome {
		case "sent":
			res.Sent++
		case "skipped":
			res.Skipped++
		case "lost":
			res.Lost++
		default:
			res.Failed++
		}
		if s.metrics != nil {
			s.metrics.ObserveReminder(outcome)
		}
	}
	if res.Candidates > 0 {
		s.logger.Info("reminder sweep finished", "candidates", res.Candidates, "sent", res.Sent,
			"skipped", res.Skipped, "lost", res.Lost, "failed", res.Failed)
	}
	return res
}

func (s *Sweeper) remind(ctx context.Context, candidate *appointments.Appointment, now time.Time) string {
	claimedAt := now.UTC().Truncate(time.Microsecond)
	appt, claimed, err := s.store.ClaimReminder(ctx, candidate.ID, claimedAt)
	if err != nil {
		s.logger.Error("reminder sweep: claim failed", "appointment_id", candidate.ID, "error", err)
		return "failed"
	}
	if !claimed {
		return "lost"
	}

	details, err := s.details(ctx, appt)
	if err != nil {
		s.logger.Warn("reminder sweep: load parties failed", "appointment_id", appt.ID, "error", err)
		s.release(ctx, appt.ID, claimedAt)
		return "failed"
	}
	// Claim stays in place so the appointment is not picked up again.
	if details.To == "" {
		s.logger.Info("reminder sweep: no patient email, skipping", "appointment_id", appt.ID)
		return "skipped"
	}

	if err := s.mailer.SendAppointmentEmail(ctx, notify.EmailReminder, details); err != nil {
		s.logger.Warn("reminder sweep: send failed, releasing claim", "appointment_id", appt.ID, "error", err)
		s.release(ctx, appt.ID, claimedAt)
		return "failed"
	}
	s.logger.Info("appointment reminder sent", "appointment_id", appt.ID, "starts_at", appt.DateTime)
	return "sent"
}

func (s *Sweeper) details(ctx context.Context, appt *appointments.Appointment) (notify.AppointmentDetails, error) {
	doctor, err := s.directory.GetDoctor(ctx, appt.DoctorID)
	if err != nil {
		return notify.AppointmentDetails{}, fmt.Errorf("load doctor: %w", err)
	}
	patient, err := s.directory.GetPatient(ctx, appt.PatientID)
	if err != nil {
		return notify.AppointmentDetails{}, fmt.Errorf("load patient: %w", err)
	}
	return appointments.EmailDetails(appt, doctor, patient, s.location), nil
}

func (s *Sweeper) release(ctx context.Context, id uuid.UUID, claimedAt time.Time) {
	if err := s.store.ReleaseReminder(ctx, id, claimedAt); err != nil {
		s.logger.Error("reminder sweep: release failed", "appointment_id", id, "error", err)
	}
}
