package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/async"
	"github.com/wolfman30/clinic-booking-platform/internal/compliance"
	"github.com/wolfman30/clinic-booking-platform/internal/events"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/internal/notify"
	"github.com/wolfman30/clinic-booking-platform/internal/profiles"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// EventAppointmentChanged is the live event doctors receive in their
// personal room.
const EventAppointmentChanged = "appointment:changed"

type Mailer interface {
	SendAppointmentEmail(ctx context.Context, kind notify.AppointmentEmailKind, d notify.AppointmentDetails) error
}

type Pusher interface {
	PushToUsers(ctx context.Context, userIDs []string, heading, content string, data map[string]any) error
}

// ConversationOpener creates the chat conversation for an online consult.
type ConversationOpener interface {
	EnsureConversation(ctx context.Context, doctorID, patientID uuid.UUID) error
}

// Broadcaster emits to live socket rooms without blocking.
type Broadcaster interface {
	EmitToRoom(room, event string, data any)
}

// EventRecorder appends an event to the outbox.
type EventRecorder interface {
	Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error)
}

type AuditLogger interface {
	LogTransition(ctx context.Context, eventType compliance.AuditEventType, appointmentID, doctorID, patientID, actor string, details compliance.AuditDetails) error
}

// Effects runs every best-effort consequence of a committed change on the
// detached runner. Each collaborator is optional.
type Effects struct {
	runner    *async.Runner
	directory Directory
	mailer    Mailer
	pusher    Pusher
	chat      ConversationOpener
	hub       Broadcaster
	outbox    EventRecorder
	audit     AuditLogger
	location  *time.Location
	logger    *logging.Logger
}

// NewEffects creates the side effect fan-out.
func NewEffects(runner *async.Runner, directory Directory, logger *logging.Logger) *Effects {
	if logger == nil {
		logger = logging.Default()
	}
	if runner == nil {
		runner = async.NewRunner(logger)
	}
	return &Effects{runner: runner, directory: directory, location: time.UTC, logger: logger}
}

func (e *Effects) WithMailer(m Mailer) *Effects {
	e.mailer = m
	return e
}

func (e *Effects) WithPusher(p Pusher) *Effects {
	e.pusher = p
	return e
}

func (e *Effects) WithChat(c ConversationOpener) *Effects {
	e.chat = c
	return e
}

func (e *Effects) WithBroadcaster(b Broadcaster) *Effects {
	e.hub = b
	return e
}

func (e *Effects) WithOutbox(r EventRecorder) *Effects {
	e.outbox = r
	return e
}

func (e *Effects) WithAudit(a AuditLogger) *Effects {
	e.audit = a
	return e
}

func (e *Effects) WithLocation(loc *time.Location) *Effects {
	if loc != nil {
		e.location = loc
	}
	return e
}

// AppointmentChanged implements Notifier.
func (e *Effects) AppointmentChanged(ctx context.Context, change Change) {
	appt := change.Appointment
	log := e.logger.With("appointment_id", appt.ID, "action", change.Action)

	if e.hub != nil {
		e.runner.Go(ctx, "appointment.broadcast", func(context.Context) error {
			e.hub.EmitToRoom(identity.UserRoom(identity.RoleDoctor, appt.DoctorID.String()), EventAppointmentChanged, map[string]any{
				"action":        change.Action,
				"appointmentId": appt.ID,
				"appointment":   appt,
			})
			return nil
		})
	}

	if e.chat != nil && change.Action == ActionCreated && appt.ConsultationType.Online() {
		e.runner.Go(ctx, "appointment.chat_conversation", func(ctx context.Context) error {
			return e.chat.EnsureConversation(ctx, appt.DoctorID, appt.PatientID)
		})
	}

	if e.directory != nil && (e.mailer != nil || e.pusher != nil) {
		e.runner.Go(ctx, "appointment.notify", func(ctx context.Context) error {
			return e.notifyParties(ctx, change)
		})
	}

	if e.outbox != nil {
		e.runner.Go(ctx, "appointment.outbox", func(ctx context.Context) error {
			_, err := e.outbox.Insert(ctx, appt.ID.String(), events.TypeAppointmentChanged, events.AppointmentChangedV1{
				EventID:          uuid.NewString(),
				Action:           string(change.Action),
				AppointmentID:    appt.ID.String(),
				DoctorID:         appt.DoctorID.String(),
				PatientID:        appt.PatientID.String(),
				DateKey:          appt.DateKey,
				TimeSlot:         appt.TimeSlot,
				StartsAt:         appt.DateTime,
				Status:           string(appt.Status),
				ConsultationType: string(appt.ConsultationType),
				Actor:            string(change.Actor),
				OccurredAt:       time.Now().UTC(),
			})
			return err
		})
	}

	if e.audit != nil {
		e.runner.Go(ctx, "appointment.audit", func(ctx context.Context) error {
			return e.audit.LogTransition(ctx, auditType(change.Action), appt.ID.String(), appt.DoctorID.String(),
				appt.PatientID.String(), string(change.Actor), compliance.AuditDetails{
					Status:           string(appt.Status),
					DateKey:          appt.DateKey,
					TimeSlot:         appt.TimeSlot,
					ConsultationType: string(appt.ConsultationType),
					Reason:           appt.CancellationReason,
				})
		})
	}
	log.Debug("appointment side effects scheduled")
}

// PaymentRecorded audits and publishes a settled gateway payment.
func (e *Effects) PaymentRecorded(ctx context.Context, appt Appointment, providerRef string) {
	eventType := compliance.EventPaymentCaptured
	if appt.PaymentStatus != PaymentPaid {
		eventType = compliance.EventPaymentFailed
	}
	if e.audit != nil {
		e.runner.Go(ctx, "payment.audit", func(ctx context.Context) error {
			return e.audit.LogTransition(ctx, eventType, appt.ID.String(), appt.DoctorID.String(), appt.PatientID.String(),
				"system", compliance.AuditDetails{
					Status:        string(appt.Status),
					PaymentStatus: string(appt.PaymentStatus),
					ProviderRef:   providerRef,
				})
		})
	}
	if e.outbox != nil {
		e.runner.Go(ctx, "payment.outbox", func(ctx context.Context) error {
			_, err := e.outbox.Insert(ctx, appt.ID.String(), events.TypePaymentRecorded, events.PaymentRecordedV1{
				EventID:       uuid.NewString(),
				AppointmentID: appt.ID.String(),
				Provider:      "razorpay",
				ProviderRef:   providerRef,
				PaymentStatus: string(appt.PaymentStatus),
				AmountMinor:   appt.FeeMinor,
				OccurredAt:    time.Now().UTC(),
			})
			return err
		})
	}
}

func (e *Effects) notifyParties(ctx context.Context, change Change) error {
	appt := change.Appointment
	doctor, err := e.directory.GetDoctor(ctx, appt.DoctorID)
	if err != nil {
		return fmt.Errorf("load doctor: %w", err)
	}
	patient, err := e.directory.GetPatient(ctx, appt.PatientID)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}

	var firstErr error
	if e.mailer != nil {
		details := EmailDetails(&appt, doctor, patient, e.location)
		if details.To != "" {
			if err := e.mailer.SendAppointmentEmail(ctx, emailKind(change.Action), details); err != nil {
				firstErr = err
			}
		}
	}
	if e.pusher != nil {
		recipient, heading, content := pushFor(change, doctor, patient)
		data := map[string]any{
			"type":          "appointment_" + string(change.Action),
			"appointmentId": appt.ID.String(),
			"doctorId":      appt.DoctorID.String(),
		}
		if err := e.pusher.PushToUsers(ctx, []string{recipient}, heading, content, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EmailDetails assembles the template input for an appointment email.
// The patient's account email wins over the booking contact email.
func EmailDetails(appt *Appointment, doctor *profiles.Doctor, patient *profiles.Patient, loc *time.Location) notify.AppointmentDetails {
	if loc == nil {
		loc = time.UTC
	}
	d := notify.AppointmentDetails{
		AppointmentID:    appt.ID.String(),
		To:               appt.PatientContactEmail,
		PatientName:      appt.PatientName,
		Start:            appt.DateTime.In(loc),
		TimeSlot:         appt.TimeSlot,
		ConsultationType: string(appt.ConsultationType),
		FeeMinor:         appt.FeeMinor,
		Reason:           appt.CancellationReason,
		CancelledBy:      appt.CancelledBy,
	}
	if patient != nil {
		if patient.Email != "" {
			d.To = patient.Email
		}
		if d.PatientName == "" {
			d.PatientName = patient.FullName
		}
	}
	if doctor != nil {
		d.DoctorName = doctor.FullName
		d.Location = doctor.ClinicAddress.String()
	}
	return d
}

func pushFor(change Change, doctor *profiles.Doctor, patient *profiles.Patient) (recipient, heading, content string) {
	appt := change.Appointment
	switch change.Action {
	case ActionCancelled:
		if change.Actor == identity.RoleDoctor {
			return patient.UserID, "Appointment cancelled",
				fmt.Sprintf("%s cancelled your %s appointment", doctor.FullName, appt.TimeSlot)
		}
		return doctor.UserID, "Appointment cancelled",
			fmt.Sprintf("%s cancelled %s on %s", appt.PatientName, appt.TimeSlot, appt.DateKey)
	case ActionRescheduled:
		return doctor.UserID, "Appointment rescheduled",
			fmt.Sprintf("%s moved to %s on %s", appt.PatientName, appt.TimeSlot, appt.DateKey)
	default:
		return doctor.UserID, "New appointment booked",
			fmt.Sprintf("%s booked %s", appt.PatientName, appt.TimeSlot)
	}
}

func emailKind(action ChangeAction) notify.AppointmentEmailKind {
	switch action {
	case ActionCancelled:
		return notify.EmailCancelled
	case ActionRescheduled:
		return notify.EmailRescheduled
	default:
		return notify.EmailBooked
	}
}

func auditType(action ChangeAction) compliance.AuditEventType {
	switch action {
	case ActionCancelled:
		return compliance.EventAppointmentCancelled
	case ActionRescheduled:
		return compliance.EventAppointmentRescheduled
	default:
		return compliance.EventAppointmentCreated
	}
}

var _ Notifier = (*Effects)(nil)
