package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	tests := []struct {
		name    string
		event   AuditEvent
		wantErr bool
	}{
		{
			name: "created by patient",
			event: AuditEvent{
				EventType:     EventAppointmentCreated,
				AppointmentID: uuid.NewString(),
				DoctorID:      uuid.NewString(),
				PatientID:     uuid.NewString(),
				ActorRole:     "patient",
			},
		},
		{
			name: "cancelled with details",
			event: AuditEvent{
				EventType:     EventAppointmentCancelled,
				AppointmentID: uuid.NewString(),
				Details:       json.RawMessage(`{"reason":"sick"}`),
			},
		},
		{
			name:    "missing appointment id",
			event:   AuditEvent{EventType: EventAppointmentCreated},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.wantErr {
				mock.ExpectExec("INSERT INTO appointment_audit_events").
					WillReturnResult(sqlmock.NewResult(1, 1))
			}
			err := service.LogEvent(context.Background(), tt.event)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	apptID := uuid.NewString()
	mock.ExpectExec("INSERT INTO appointment_audit_events").
		WithArgs(sqlmock.AnyArg(), string(EventAppointmentRescheduled), apptID,
			sql.NullString{}, sql.NullString{String: "p-1", Valid: true}, sql.NullString{String: "patient", Valid: true},
			[]byte(`{"date_key":"2026-03-02","time_slot":"09:15 AM"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewAuditService(db).LogTransition(context.Background(), EventAppointmentRescheduled, apptID, "", "p-1", "patient",
		AuditDetails{DateKey: "2026-03-02", TimeSlot: "09:15 AM"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogEventDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO appointment_audit_events").WillReturnError(errors.New("disk full"))
	err = NewAuditService(db).LogEvent(context.Background(), AuditEvent{EventType: EventPaymentFailed, AppointmentID: "a"})
	assert.Error(t, err)
}

func TestAuditService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	apptID := uuid.NewString()
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "event_type", "appointment_id", "doctor_id", "patient_id", "actor_role", "details", "created_at"}).
		AddRow("e-2", string(EventAppointmentCancelled), apptID, "d-1", "p-1", "doctor", []byte(`{"reason":"x"}`), now).
		AddRow("e-1", string(EventAppointmentCreated), apptID, "d-1", "p-1", nil, []byte(`{}`), now.Add(-time.Hour))

	mock.ExpectQuery("SELECT id, event_type, appointment_id").
		WithArgs(apptID, string(EventAppointmentCancelled)).
		WillReturnRows(rows)

	events, err := NewAuditService(db).QueryEvents(context.Background(), AuditFilter{
		AppointmentID: apptID,
		EventType:     EventAppointmentCancelled,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventAppointmentCancelled, events[0].EventType)
	assert.Equal(t, "doctor", events[0].ActorRole)
	assert.Equal(t, "", events[1].ActorRole)
	assert.JSONEq(t, `{"reason":"x"}`, string(events[0].Details))
	assert.NoError(t, mock.ExpectationsWereMet())
}
