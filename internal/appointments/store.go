package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// errStaleState means a guarded UPDATE matched no row because the
// appointment left the state the caller observed.
var errStaleState = errors.New("appointments: appointment state changed")

const uniqueViolation = "23505"

// PostgresStore persists appointments. Slot exclusivity is carried by the
// partial unique index on (doctor_id, date_key, time_slot,
// slot_booking_number) WHERE status <> 'cancelled'.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store backed by Postgres.
func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("appointments: db required")
	}
	return &PostgresStore{db: db}
}

const appointmentColumns = `id, patient_id, doctor_id, date_key, date_time, time_slot, slot_booking_number,
	consultation_type, patient_name, patient_relation, patient_gender, patient_age,
	patient_contact_email, patient_contact_phone, fee_minor, notes, status,
	cancellation_reason, cancelled_by, payment_status, payment_method, transaction_id,
	gateway_order_id, gateway_payment_id, gateway_signature, reschedule_count,
	rescheduled_at, reminder_email_sent_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a             Appointment
		consultation  string
		status        string
		paymentStatus string
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.DateKey, &a.DateTime, &a.TimeSlot, &a.SlotBookingNumber,
		&consultation, &a.PatientName, &a.PatientRelation, &a.PatientGender, &a.PatientAge,
		&a.PatientContactEmail, &a.PatientContactPhone, &a.FeeMinor, &a.Notes, &status,
		&a.CancellationReason, &a.CancelledBy, &paymentStatus, &a.PaymentMethod, &a.TransactionID,
		&a.GatewayOrderID, &a.GatewayPaymentID, &a.GatewaySignature, &a.RescheduleCount,
		&a.RescheduledAt, &a.ReminderEmailSentAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ConsultationType = ConsultationType(consultation)
	a.Status = Status(status)
	a.PaymentStatus = PaymentStatus(paymentStatus)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Insert writes a new appointment. A concurrent booking of the same slot
// surfaces as a Conflict.
func (s *PostgresStore) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.SlotBookingNumber == 0 {
		a.SlotBookingNumber = 1
	}
	query := `
		INSERT INTO appointments (id, patient_id, doctor_id, date_key, date_time, time_slot, slot_booking_number,
			consultation_type, patient_name, patient_relation, patient_gender, patient_age,
			patient_contact_email, patient_contact_phone, fee_minor, notes, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		a.ID, a.PatientID, a.DoctorID, a.DateKey, a.DateTime, a.TimeSlot, a.SlotBookingNumber,
		string(a.ConsultationType), a.PatientName, a.PatientRelation, a.PatientGender, a.PatientAge,
		a.PatientContactEmail, a.PatientContactPhone, a.FeeMinor, a.Notes, string(a.Status), string(a.PaymentStatus),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict, err, "this slot is already booked")
		}
		return fmt.Errorf("appointments: insert: %w", err)
	}
	return nil
}

// Get loads an appointment by id.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return a, nil
}

// IsSlotHeld reports whether a non-cancelled appointment other than exclude
// occupies the slot. Pass uuid.Nil to exclude nothing.
func (s *PostgresStore) IsSlotHeld(ctx context.Context, doctorID uuid.UUID, dateKey, slot string, exclude uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND date_key = $2 AND time_slot = $3
				AND status <> 'cancelled' AND id <> $4
		)
	`
	var held bool
	if err := s.db.QueryRow(ctx, query, doctorID, dateKey, slot, exclude).Scan(&held); err != nil {
		return false, fmt.Errorf("appointments: slot held: %w", err)
	}
	return held, nil
}

// BookedSlots lists the labels held on a doctor's day.
func (s *PostgresStore) BookedSlots(ctx context.Context, doctorID uuid.UUID, dateKey string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT time_slot FROM appointments
		WHERE doctor_id = $1 AND date_key = $2 AND status <> 'cancelled'
		ORDER BY date_time
	`, doctorID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("appointments: booked slots: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("appointments: scan booked slot: %w", err)
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// CountDaily counts the patient's non-cancelled bookings with a doctor on a
// day, restricted to the self or family quota class.
func (s *PostgresStore) CountDaily(ctx context.Context, patientID, doctorID uuid.UUID, dateKey string, self bool) (int, error) {
	query := `
		SELECT COUNT(*) FROM appointments
		WHERE patient_id = $1 AND doctor_id = $2 AND date_key = $3
			AND status <> 'cancelled'
			AND (patient_relation = 'self') = $4
	`
	var n int
	if err := s.db.QueryRow(ctx, query, patientID, doctorID, dateKey, self).Scan(&n); err != nil {
		return 0, fmt.Errorf("appointments: count daily: %w", err)
	}
	return n, nil
}

// Cancel moves an active appointment to cancelled. It returns errStaleState
// when the appointment is no longer pending or confirmed.
func (s *PostgresStore) Cancel(ctx context.Context, id uuid.UUID, reason, cancelledBy string) (*Appointment, error) {
	query := `
		UPDATE appointments
		SET status = 'cancelled', cancellation_reason = $2, cancelled_by = $3, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING ` + appointmentColumns
	a, err := scanAppointment(s.db.QueryRow(ctx, query, id, reason, cancelledBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errStaleState
		}
		return nil, fmt.Errorf("appointments: cancel: %w", err)
	}
	return a, nil
}

// Reschedule moves an appointment that has never been rescheduled to a new
// slot. Zero matched rows means a concurrent change won.
func (s *PostgresStore) Reschedule(ctx context.Context, id uuid.UUID, dateKey string, at time.Time, slot string) (*Appointment, error) {
	query := `
		UPDATE appointments
		SET date_key = $2, date_time = $3, time_slot = $4, status = 'confirmed',
			reschedule_count = reschedule_count + 1, rescheduled_at = now(),
			reminder_email_sent_at = NULL, updated_at = now()
		WHERE id = $1 AND reschedule_count = 0 AND status IN ('pending', 'confirmed')
		RETURNING ` + appointmentColumns
	a, err := scanAppointment(s.db.QueryRow(ctx, query, id, dateKey, at, slot))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, apperr.Wrap(apperr.KindConflict, errStaleState, "appointment was modified, please retry")
		case isUniqueViolation(err):
			return nil, apperr.Wrap(apperr.KindConflict, err, "this slot is already booked")
		}
		return nil, fmt.Errorf("appointments: reschedule: %w", err)
	}
	return a, nil
}

// ListForPatient returns the patient's appointments, newest slot first.
func (s *PostgresStore) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE patient_id = $1 ORDER BY date_time DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for patient: %w", err)
	}
	out, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for patient: %w", err)
	}
	return out, nil
}

// ListForDoctor returns the doctor's appointments, optionally for one day.
func (s *PostgresStore) ListForDoctor(ctx context.Context, doctorID uuid.UUID, dateKey string) ([]Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE doctor_id = $1`
	args := []any{doctorID}
	if dateKey != "" {
		query += ` AND date_key = $2`
		args = append(args, dateKey)
	}
	query += ` ORDER BY date_time`
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for doctor: %w", err)
	}
	out, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for doctor: %w", err)
	}
	return out, nil
}

// ListDoctorPatients returns the distinct patients a doctor has booked, most
// recent visit first.
func (s *PostgresStore) ListDoctorPatients(ctx context.Context, doctorID uuid.UUID) ([]DoctorPatient, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.full_name, p.email, p.phone, COUNT(a.id), MAX(a.date_time)
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.doctor_id = $1 AND a.status <> 'cancelled'
		GROUP BY p.id, p.full_name, p.email, p.phone
		ORDER BY MAX(a.date_time) DESC
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list doctor patients: %w", err)
	}
	defer rows.Close()
	var out []DoctorPatient
	for rows.Next() {
		var p DoctorPatient
		if err := rows.Scan(&p.PatientID, &p.FullName, &p.Email, &p.Phone, &p.AppointmentCount, &p.LastAppointmentAt); err != nil {
			return nil, fmt.Errorf("appointments: scan doctor patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListForDoctorPatient returns every appointment between one doctor and one
// patient, cancelled ones included, newest slot first.
func (s *PostgresStore) ListForDoctorPatient(ctx context.Context, doctorID, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE doctor_id = $1 AND patient_id = $2
		ORDER BY date_time DESC`, doctorID, patientID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for doctor patient: %w", err)
	}
	out, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for doctor patient: %w", err)
	}
	return out, nil
}

// ListReminderCandidates returns confirmed, unreminded appointments whose
// start lies in [from, to].
func (s *PostgresStore) ListReminderCandidates(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE status = 'confirmed' AND reminder_email_sent_at IS NULL
			AND date_time >= $1 AND date_time <= $2
		ORDER BY date_time LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: reminder candidates: %w", err)
	}
	out, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("appointments: reminder candidates: %w", err)
	}
	return out, nil
}

// ClaimReminder stamps reminder_email_sent_at if nobody has yet. claimed is
// false when another sweeper got there first.
func (s *PostgresStore) ClaimReminder(ctx context.Context, id uuid.UUID, at time.Time) (*Appointment, bool, error) {
	query := `
		UPDATE appointments SET reminder_email_sent_at = $2
		WHERE id = $1 AND reminder_email_sent_at IS NULL AND status = 'confirmed'
		RETURNING ` + appointmentColumns
	a, err := scanAppointment(s.db.QueryRow(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("appointments: claim reminder: %w", err)
	}
	return a, true, nil
}

// ReleaseReminder undoes a claim made at claimedAt so a later tick retries.
func (s *PostgresStore) ReleaseReminder(ctx context.Context, id uuid.UUID, claimedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE appointments SET reminder_email_sent_at = NULL
		WHERE id = $1 AND reminder_email_sent_at = $2
	`, id, claimedAt)
	if err != nil {
		return fmt.Errorf("appointments: release reminder: %w", err)
	}
	return nil
}

// GetByGatewayOrder finds the appointment a gateway order was created for.
func (s *PostgresStore) GetByGatewayOrder(ctx context.Context, orderID string) (*Appointment, error) {
	a, err := scanAppointment(s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE gateway_order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("appointment not found for order")
		}
		return nil, fmt.Errorf("appointments: get by order: %w", err)
	}
	return a, nil
}

// SetGatewayOrder records the gateway order created for an unpaid appointment.
func (s *PostgresStore) SetGatewayOrder(ctx context.Context, id uuid.UUID, orderID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET gateway_order_id = $2, payment_method = 'razorpay', updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid'
	`, id, orderID)
	if err != nil {
		return fmt.Errorf("appointments: set gateway order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("appointment is already paid")
	}
	return nil
}

// RecordPaymentCaptured marks an appointment paid and confirmed.
func (s *PostgresStore) RecordPaymentCaptured(ctx context.Context, id uuid.UUID, paymentID, signature string) (*Appointment, error) {
	query := `
		UPDATE appointments
		SET payment_status = 'paid', status = 'confirmed', gateway_payment_id = $2,
			gateway_signature = $3, transaction_id = $2, updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid' AND status IN ('pending', 'confirmed')
		RETURNING ` + appointmentColumns
	a, err := scanAppointment(s.db.QueryRow(ctx, query, id, paymentID, signature))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Conflict("appointment is already paid or no longer active")
		}
		return nil, fmt.Errorf("appointments: record payment: %w", err)
	}
	return a, nil
}

// RecordPaymentFailed marks an unpaid appointment's payment failed. When
// cancel is set the appointment is also cancelled, releasing its slot.
func (s *PostgresStore) RecordPaymentFailed(ctx context.Context, id uuid.UUID, cancel bool) (*Appointment, error) {
	query := `
		UPDATE appointments
		SET payment_status = 'failed', updated_at = now(),
			status = CASE WHEN $2 AND status IN ('pending', 'confirmed') THEN 'cancelled' ELSE status END,
			cancellation_reason = CASE WHEN $2 AND status IN ('pending', 'confirmed') THEN 'payment failed' ELSE cancellation_reason END,
			cancelled_by = CASE WHEN $2 AND status IN ('pending', 'confirmed') THEN 'system' ELSE cancelled_by END
		WHERE id = $1 AND payment_status <> 'paid'
		RETURNING ` + appointmentColumns
	a, err := scanAppointment(s.db.QueryRow(ctx, query, id, cancel))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Conflict("appointment is already paid")
		}
		return nil, fmt.Errorf("appointments: record payment failure: %w", err)
	}
	return a, nil
}
