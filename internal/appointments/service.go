package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/internal/profiles"
	"github.com/wolfman30/clinic-booking-platform/internal/scheduling"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.appointments")

// Store is the persistence the lifecycle manager needs.
type Store interface {
	Insert(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	IsSlotHeld(ctx context.Context, doctorID uuid.UUID, dateKey, slot string, exclude uuid.UUID) (bool, error)
	BookedSlots(ctx context.Context, doctorID uuid.UUID, dateKey string) ([]string, error)
	CountDaily(ctx context.Context, patientID, doctorID uuid.UUID, dateKey string, self bool) (int, error)
	Cancel(ctx context.Context, id uuid.UUID, reason, cancelledBy string) (*Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, dateKey string, at time.Time, slot string) (*Appointment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, dateKey string) ([]Appointment, error)
	ListDoctorPatients(ctx context.Context, doctorID uuid.UUID) ([]DoctorPatient, error)
	ListForDoctorPatient(ctx context.Context, doctorID, patientID uuid.UUID) ([]Appointment, error)
}

// Directory resolves the doctor and patient profiles behind a booking.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*profiles.Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*profiles.Patient, error)
}

// Change describes a committed lifecycle transition.
type Change struct {
	Action      ChangeAction
	Appointment Appointment
	Actor       identity.Role
}

// Notifier fans a committed change out to email, push, chat and live
// subscribers. Implementations must not block the caller.
type Notifier interface {
	AppointmentChanged(ctx context.Context, change Change)
}

// VelocityGuard limits how fast one patient may attempt bookings.
type VelocityGuard interface {
	Allow(ctx context.Context, patientID string) bool
}

// Metrics records booking outcomes.
type Metrics interface {
	ObserveBooking(operation, outcome string)
}

// Policy holds the tunable booking rules.
type Policy struct {
	StepMinutes      int
	LeadTime         time.Duration
	RescheduleNotice time.Duration
	SelfDailyQuota   int
	FamilyDailyQuota int
	Location         *time.Location
	PaymentsEnabled  bool
}

// DefaultPolicy returns the clinic defaults.
func DefaultPolicy() Policy {
	return Policy{
		StepMinutes:      scheduling.DefaultStepMinutes,
		LeadTime:         2 * time.Hour,
		RescheduleNotice: 24 * time.Hour,
		SelfDailyQuota:   1,
		FamilyDailyQuota: 10,
		Location:         time.UTC,
	}
}

// Service implements the appointment lifecycle and slot availability.
type Service struct {
	store     Store
	directory Directory
	notifier  Notifier
	velocity  VelocityGuard
	metrics   Metrics
	policy    Policy
	now       func() time.Time
	logger    *logging.Logger
}

// NewService creates the lifecycle manager.
func NewService(store Store, directory Directory, logger *logging.Logger) *Service {
	if store == nil {
		panic("appointments: store required")
	}
	if directory == nil {
		panic("appointments: directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:     store,
		directory: directory,
		policy:    DefaultPolicy(),
		now:       time.Now,
		logger:    logger,
	}
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithVelocity(v VelocityGuard) *Service {
	s.velocity = v
	return s
}

func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// WithPolicy replaces the booking rules. Zero fields keep their defaults.
func (s *Service) WithPolicy(p Policy) *Service {
	def := DefaultPolicy()
	if p.StepMinutes <= 0 {
		p.StepMinutes = def.StepMinutes
	}
	if p.LeadTime <= 0 {
		p.LeadTime = def.LeadTime
	}
	if p.RescheduleNotice <= 0 {
		p.RescheduleNotice = def.RescheduleNotice
	}
	if p.SelfDailyQuota <= 0 {
		p.SelfDailyQuota = def.SelfDailyQuota
	}
	if p.FamilyDailyQuota <= 0 {
		p.FamilyDailyQuota = def.FamilyDailyQuota
	}
	if p.Location == nil {
		p.Location = def.Location
	}
	s.policy = p
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Policy returns the active booking rules.
func (s *Service) Policy() Policy { return s.policy }

func (s *Service) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	s.metrics.ObserveBooking(op, outcome)
}

func (s *Service) notify(ctx context.Context, action ChangeAction, appt *Appointment, actor identity.Role) {
	if s.notifier == nil || appt == nil {
		return
	}
	s.notifier.AppointmentChanged(ctx, Change{Action: action, Appointment: *appt, Actor: actor})
}

// Create books a slot for the calling patient.
func (s *Service) Create(ctx context.Context, caller identity.Caller, req CreateRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.create")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.doctor_id", req.DoctorID))

	appt, err := s.create(ctx, caller, req)
	s.observe("create", err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"date_key", appt.DateKey,
		"time_slot", appt.TimeSlot,
	)
	s.notify(ctx, ActionCreated, appt, caller.Role)
	return appt, nil
}

func (s *Service) create(ctx context.Context, caller identity.Caller, req CreateRequest) (*Appointment, error) {
	patientID, err := patientIdentity(caller)
	if err != nil {
		return nil, err
	}
	if s.velocity != nil && !s.velocity.Allow(ctx, caller.ProfileID) {
		return nil, apperr.RateLimited("too many booking attempts, please try again later")
	}

	doctor, err := s.bookableDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsOnline {
		return nil, apperr.Conflict("doctor is offline")
	}
	if !req.ConsultationType.Valid() {
		return nil, apperr.Invalid("consultationType must be one of in_clinic, online_video, online_chat")
	}

	label, err := s.liveSlot(doctor, req.TimeSlot)
	if err != nil {
		return nil, err
	}
	dateKey, err := s.resolveDateKey(req.Date, req.DateTime)
	if err != nil {
		return nil, err
	}
	start, err := scheduling.SlotStart(dateKey, label, s.policy.Location)
	if err != nil {
		return nil, apperr.Invalid("invalid date or time slot")
	}
	now := s.now()
	if start.Before(now) {
		return nil, apperr.Invalid("cannot book an appointment in the past")
	}
	if start.Sub(now) < s.policy.LeadTime {
		return nil, apperr.Invalid("appointments must be booked at least %s in advance", formatDuration(s.policy.LeadTime))
	}

	relation := NormalizeRelation(req.PatientRelation)
	self := relation == RelationSelf
	count, err := s.store.CountDaily(ctx, patientID, doctor.ID, dateKey, self)
	if err != nil {
		return nil, err
	}
	if self && count >= s.policy.SelfDailyQuota {
		return nil, apperr.Invalid("you can book only %d appointment(s) for yourself with this doctor per day", s.policy.SelfDailyQuota)
	}
	if !self && count >= s.policy.FamilyDailyQuota {
		return nil, apperr.Invalid("you can book only %d appointment(s) for family members with this doctor per day", s.policy.FamilyDailyQuota)
	}

	held, err := s.store.IsSlotHeld(ctx, doctor.ID, dateKey, label, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if held {
		return nil, apperr.Conflict("this slot is already booked")
	}

	patient, err := s.directory.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	appt := &Appointment{
		ID:                  uuid.New(),
		PatientID:           patientID,
		DoctorID:            doctor.ID,
		DateKey:             dateKey,
		DateTime:            start,
		TimeSlot:            label,
		SlotBookingNumber:   1,
		ConsultationType:    req.ConsultationType,
		PatientName:         strings.TrimSpace(req.PatientName),
		PatientRelation:     relation,
		PatientGender:       strings.TrimSpace(req.PatientGender),
		PatientAge:          req.PatientAge,
		PatientContactEmail: strings.TrimSpace(req.PatientContactEmail),
		PatientContactPhone: strings.TrimSpace(req.PatientContactPhone),
		FeeMinor:            doctor.ConsultationFeeMinor,
		Notes:               strings.TrimSpace(req.Notes),
		Status:              StatusConfirmed,
		PaymentStatus:       PaymentPending,
	}
	if appt.PatientName == "" {
		appt.PatientName = patient.FullName
	}
	if appt.PatientContactEmail == "" {
		appt.PatientContactEmail = patient.Email
	}
	if appt.PatientContactPhone == "" {
		appt.PatientContactPhone = patient.Phone
	}
	if s.policy.PaymentsEnabled {
		appt.Status = StatusPending
	}
	if err := s.store.Insert(ctx, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// Cancel cancels an appointment on behalf of its patient or doctor.
// Cancelling an already cancelled appointment succeeds without change.
func (s *Service) Cancel(ctx context.Context, caller identity.Caller, id uuid.UUID, reason string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", id.String()))

	appt, changed, err := s.cancel(ctx, caller, id, reason)
	s.observe("cancel", err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if changed {
		s.logger.Info("appointment cancelled", "appointment_id", id, "cancelled_by", caller.Role)
		s.notify(ctx, ActionCancelled, appt, caller.Role)
	}
	return appt, nil
}

func (s *Service) cancel(ctx context.Context, caller identity.Caller, id uuid.UUID, reason string) (*Appointment, bool, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ownsAppointment(caller, appt) {
		return nil, false, apperr.NotFound("appointment not found")
	}
	if appt.Status == StatusCancelled {
		return appt, false, nil
	}
	if appt.Status == StatusCompleted {
		return nil, false, apperr.Invalid("completed appointments cannot be cancelled")
	}
	if caller.IsDoctor() && appt.DateTime.Before(scheduling.StartOfDay(s.now(), s.policy.Location)) {
		return nil, false, apperr.Invalid("past appointments cannot be cancelled")
	}

	updated, err := s.store.Cancel(ctx, id, strings.TrimSpace(reason), string(caller.Role))
	if errors.Is(err, errStaleState) {
		current, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		if current.Status == StatusCancelled {
			return current, false, nil
		}
		return nil, false, apperr.Invalid("appointment can no longer be cancelled")
	}
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// Reschedule moves the patient's appointment to a new slot. Each
// appointment may be rescheduled once.
func (s *Service) Reschedule(ctx context.Context, caller identity.Caller, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", id.String()))

	appt, err := s.reschedule(ctx, caller, id, req)
	s.observe("reschedule", err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("appointment rescheduled",
		"appointment_id", appt.ID,
		"date_key", appt.DateKey,
		"time_slot", appt.TimeSlot,
	)
	s.notify(ctx, ActionRescheduled, appt, caller.Role)
	return appt, nil
}

func (s *Service) reschedule(ctx context.Context, caller identity.Caller, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	patientID, err := patientIdentity(caller)
	if err != nil {
		return nil, apperr.Forbidden("only the patient can reschedule an appointment")
	}
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, apperr.NotFound("appointment not found")
	}
	if !appt.Status.Active() {
		return nil, apperr.Invalid("%s appointments cannot be rescheduled", appt.Status)
	}
	if appt.RescheduleCount >= 1 {
		return nil, apperr.Invalid("an appointment can be rescheduled only once")
	}
	now := s.now()
	if appt.DateTime.Before(now) {
		return nil, apperr.Invalid("past appointments cannot be rescheduled")
	}
	if appt.DateTime.Sub(now) < s.policy.RescheduleNotice {
		return nil, apperr.Invalid("appointments can be rescheduled only %s or more before they start", formatDuration(s.policy.RescheduleNotice))
	}

	doctor, err := s.bookableDoctor(ctx, appt.DoctorID.String())
	if err != nil {
		return nil, err
	}
	label, err := s.liveSlot(doctor, req.TimeSlot)
	if err != nil {
		return nil, err
	}
	dateKey, err := s.resolveDateKey(req.Date, req.DateTime)
	if err != nil {
		return nil, err
	}
	start, err := scheduling.SlotStart(dateKey, label, s.policy.Location)
	if err != nil {
		return nil, apperr.Invalid("invalid date or time slot")
	}
	if !start.After(now) {
		return nil, apperr.Invalid("the new time must be in the future")
	}

	held, err := s.store.IsSlotHeld(ctx, appt.DoctorID, dateKey, label, appt.ID)
	if err != nil {
		return nil, err
	}
	if held {
		return nil, apperr.Conflict("this slot is already booked")
	}
	return s.store.Reschedule(ctx, appt.ID, dateKey, start, label)
}

// AvailableSlots lists the free slots of an approved doctor on a day.
func (s *Service) AvailableSlots(ctx context.Context, doctorID, date string) (*Availability, error) {
	ctx, span := tracer.Start(ctx, "appointments.available_slots")
	defer span.End()

	doctor, err := s.bookableDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	day, err := scheduling.ParseDate(date, s.policy.Location)
	if err != nil {
		return nil, apperr.Invalid("date must be YYYY-MM-DD")
	}
	dateKey := day.Format(scheduling.DateLayout)

	all := scheduling.GenerateSlots(doctor.Timing, s.policy.StepMinutes)
	booked, err := s.store.BookedSlots(ctx, doctor.ID, dateKey)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		taken[b] = struct{}{}
	}

	now := s.now()
	free := make([]string, 0, len(all))
	for _, label := range all {
		if _, ok := taken[label]; ok {
			continue
		}
		start, err := scheduling.SlotStart(dateKey, label, s.policy.Location)
		if err != nil || start.Sub(now) < s.policy.LeadTime {
			continue
		}
		free = append(free, label)
	}
	if all == nil {
		all = []string{}
	}
	if booked == nil {
		booked = []string{}
	}
	return &Availability{
		DoctorID:  doctor.ID,
		Date:      dateKey,
		Slots:     free,
		AllSlots:  all,
		Booked:    booked,
		StepMins:  s.policy.StepMinutes,
		Bookable:  len(all) > 0,
		Generated: now,
	}, nil
}

// Get returns an appointment visible to the caller.
func (s *Service) Get(ctx context.Context, caller identity.Caller, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsAppointment(caller, appt) && caller.Role != identity.RoleAdmin {
		return nil, apperr.NotFound("appointment not found")
	}
	return appt, nil
}

// ListForPatient lists the calling patient's appointments.
func (s *Service) ListForPatient(ctx context.Context, caller identity.Caller, limit, offset int) ([]Appointment, error) {
	patientID, err := patientIdentity(caller)
	if err != nil {
		return nil, err
	}
	return s.store.ListForPatient(ctx, patientID, limit, offset)
}

// ListForDoctor lists the calling doctor's appointments, optionally for one day.
func (s *Service) ListForDoctor(ctx context.Context, caller identity.Caller, date string) ([]Appointment, error) {
	doctorID, err := doctorIdentity(caller)
	if err != nil {
		return nil, err
	}
	dateKey := ""
	if strings.TrimSpace(date) != "" {
		day, err := scheduling.ParseDate(date, s.policy.Location)
		if err != nil {
			return nil, apperr.Invalid("date must be YYYY-MM-DD")
		}
		dateKey = day.Format(scheduling.DateLayout)
	}
	return s.store.ListForDoctor(ctx, doctorID, dateKey)
}

// ListDoctorPatients lists the distinct patients of the calling doctor.
func (s *Service) ListDoctorPatients(ctx context.Context, caller identity.Caller) ([]DoctorPatient, error) {
	doctorID, err := doctorIdentity(caller)
	if err != nil {
		return nil, err
	}
	return s.store.ListDoctorPatients(ctx, doctorID)
}

// PatientHistory is one patient's record with the calling doctor.
type PatientHistory struct {
	Patient          *profiles.Patient `json:"patient"`
	AppointmentCount int               `json:"appointmentCount"`
	Appointments     []Appointment     `json:"appointments"`
}

// DoctorPatientHistory returns every appointment between the calling doctor
// and one patient, newest first. Patients the doctor has never booked with
// are reported as not found.
func (s *Service) DoctorPatientHistory(ctx context.Context, caller identity.Caller, rawPatientID string) (*PatientHistory, error) {
	doctorID, err := doctorIdentity(caller)
	if err != nil {
		return nil, err
	}
	patientID, err := uuid.Parse(strings.TrimSpace(rawPatientID))
	if err != nil {
		return nil, apperr.Invalid("valid patientId is required")
	}
	list, err := s.store.ListForDoctorPatient(ctx, doctorID, patientID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperr.NotFound("patient not found")
	}
	patient, err := s.directory.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return &PatientHistory{Patient: patient, AppointmentCount: len(list), Appointments: list}, nil
}

func (s *Service) bookableDoctor(ctx context.Context, rawID string) (*profiles.Doctor, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, apperr.Invalid("valid doctorId is required")
	}
	doctor, err := s.directory.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doctor.Approved() {
		return nil, apperr.NotFound("doctor not found")
	}
	return doctor, nil
}

// liveSlot canonicalizes label and checks it against the doctor's current
// schedule.
func (s *Service) liveSlot(doctor *profiles.Doctor, label string) (string, error) {
	canonical, ok := scheduling.CanonicalLabel(label)
	if !ok {
		return "", apperr.Invalid("timeSlot is invalid")
	}
	if !scheduling.Contains(scheduling.GenerateSlots(doctor.Timing, s.policy.StepMinutes), canonical) {
		return "", apperr.Invalid("selected time slot is not available for this doctor")
	}
	return canonical, nil
}

// resolveDateKey takes the calendar day from date, or from the instant in
// dateTime seen in the clinic time zone.
func (s *Service) resolveDateKey(date, dateTime string) (string, error) {
	if d := strings.TrimSpace(date); d != "" {
		day, err := scheduling.ParseDate(d, s.policy.Location)
		if err != nil {
			return "", apperr.Invalid("date must be YYYY-MM-DD")
		}
		return day.Format(scheduling.DateLayout), nil
	}
	if dt := strings.TrimSpace(dateTime); dt != "" {
		t, err := time.Parse(time.RFC3339, dt)
		if err != nil {
			return "", apperr.Invalid("dateTime must be RFC 3339")
		}
		return scheduling.DateKey(t, s.policy.Location), nil
	}
	return "", apperr.Invalid("date is required")
}

func ownsAppointment(caller identity.Caller, a *Appointment) bool {
	switch {
	case caller.IsPatient():
		return caller.ProfileID == a.PatientID.String()
	case caller.IsDoctor():
		return caller.ProfileID == a.DoctorID.String()
	}
	return false
}

func patientIdentity(caller identity.Caller) (uuid.UUID, error) {
	if !caller.IsPatient() {
		return uuid.Nil, apperr.Forbidden("patient profile required")
	}
	id, err := uuid.Parse(caller.ProfileID)
	if err != nil {
		return uuid.Nil, apperr.Forbidden("patient profile is invalid")
	}
	return id, nil
}

func doctorIdentity(caller identity.Caller) (uuid.UUID, error) {
	if !caller.IsDoctor() {
		return uuid.Nil, apperr.Forbidden("doctor profile required")
	}
	id, err := uuid.Parse(caller.ProfileID)
	if err != nil {
		return uuid.Nil, apperr.Forbidden("doctor profile is invalid")
	}
	return id, nil
}

func formatDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int(d/time.Minute))
}
