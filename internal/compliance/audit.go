// Package compliance keeps the immutable audit trail of appointment state
// changes.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the kind of audited transition.
type AuditEventType string

const (
	EventAppointmentCreated     AuditEventType = "appointment.created"
	EventAppointmentCancelled   AuditEventType = "appointment.cancelled"
	EventAppointmentRescheduled AuditEventType = "appointment.rescheduled"
	EventPaymentCaptured        AuditEventType = "appointment.payment_captured"
	EventPaymentFailed          AuditEventType = "appointment.payment_failed"
)

// AuditEvent is one immutable audit row.
type AuditEvent struct {
	ID            string          `json:"id"`
	EventType     AuditEventType  `json:"event_type"`
	AppointmentID string          `json:"appointment_id"`
	DoctorID      string          `json:"doctor_id,omitempty"`
	PatientID     string          `json:"patient_id,omitempty"`
	ActorRole     string          `json:"actor_role,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AuditDetails holds transition specific fields.
type AuditDetails struct {
	Status           string `json:"status,omitempty"`
	DateKey          string `json:"date_key,omitempty"`
	TimeSlot         string `json:"time_slot,omitempty"`
	ConsultationType string `json:"consultation_type,omitempty"`
	Reason           string `json:"reason,omitempty"`
	PaymentStatus    string `json:"payment_status,omitempty"`
	ProviderRef      string `json:"provider_ref,omitempty"`
}

// AuditService writes and reads the audit trail over database/sql.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.AppointmentID == "" {
		return fmt.Errorf("compliance: appointment id required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO appointment_audit_events (
			id, event_type, appointment_id, doctor_id, patient_id, actor_role, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		event.AppointmentID,
		nullString(event.DoctorID),
		nullString(event.PatientID),
		nullString(event.ActorRole),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogTransition is LogEvent with structured details.
func (s *AuditService) LogTransition(ctx context.Context, eventType AuditEventType, appointmentID, doctorID, patientID, actor string, details AuditDetails) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("compliance: marshal details: %w", err)
	}
	return s.LogEvent(ctx, AuditEvent{
		EventType:     eventType,
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		PatientID:     patientID,
		ActorRole:     actor,
		Details:       detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, appointment_id, doctor_id, patient_id, actor_role, details, created_at
		FROM appointment_audit_events
		WHERE 1 = 1
	`
	var args []any
	argIdx := 1

	if filter.AppointmentID != "" {
		query += fmt.Sprintf(" AND appointment_id = $%d", argIdx)
		args = append(args, filter.AppointmentID)
		argIdx++
	}
	if filter.DoctorID != "" {
		query += fmt.Sprintf(" AND doctor_id = $%d", argIdx)
		args = append(args, filter.DoctorID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, string(filter.EventType))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			e                         AuditEvent
			eventType                 string
			doctorID, patientID, role sql.NullString
			details                   []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.AppointmentID, &doctorID, &patientID, &role, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.EventType = AuditEventType(eventType)
		e.DoctorID = doctorID.String
		e.PatientID = patientID.String
		e.ActorRole = role.String
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}
	return events, rows.Err()
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	AppointmentID string
	DoctorID      string
	EventType     AuditEventType
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
	Offset        int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
