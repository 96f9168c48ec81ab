package events

import "time"

// Event types written to the outbox.
const (
	TypeAppointmentChanged = "appointment.changed.v1"
	TypePaymentRecorded    = "appointment.payment.v1"
)

// AppointmentChangedV1 is published whenever an appointment is created,
// cancelled or rescheduled.
type AppointmentChangedV1 struct {
	EventID          string    `json:"event_id"`
	Action           string    `json:"action"`
	AppointmentID    string    `json:"appointment_id"`
	DoctorID         string    `json:"doctor_id"`
	PatientID        string    `json:"patient_id"`
	DateKey          string    `json:"date_key"`
	TimeSlot         string    `json:"time_slot"`
	StartsAt         time.Time `json:"starts_at"`
	Status           string    `json:"status"`
	ConsultationType string    `json:"consultation_type"`
	Actor            string    `json:"actor,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// PaymentRecordedV1 is published when a gateway payment settles.
type PaymentRecordedV1 struct {
	EventID       string    `json:"event_id"`
	AppointmentID string    `json:"appointment_id"`
	Provider      string    `json:"provider"`
	ProviderRef   string    `json:"provider_ref"`
	PaymentStatus string    `json:"payment_status"`
	AmountMinor   int64     `json:"amount_minor"`
	OccurredAt    time.Time `json:"occurred_at"`
}
