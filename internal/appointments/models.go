package appointments

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Active reports whether the appointment still holds its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// PaymentStatus shadows the gateway payment state.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// ConsultationType is how the patient meets the doctor.
type ConsultationType string

const (
	ConsultationInClinic    ConsultationType = "in_clinic"
	ConsultationOnlineVideo ConsultationType = "online_video"
	ConsultationOnlineChat  ConsultationType = "online_chat"
)

// Valid reports whether c is a supported consultation type.
func (c ConsultationType) Valid() bool {
	switch c {
	case ConsultationInClinic, ConsultationOnlineVideo, ConsultationOnlineChat:
		return true
	}
	return false
}

// Online reports whether the consultation entitles the pair to chat.
func (c ConsultationType) Online() bool {
	return c == ConsultationOnlineVideo || c == ConsultationOnlineChat
}

// RelationSelf marks a booking the patient makes for themselves.
const RelationSelf = "self"

// NormalizeRelation lowercases the relation and defaults it to self.
func NormalizeRelation(relation string) string {
	r := strings.ToLower(strings.TrimSpace(relation))
	if r == "" {
		return RelationSelf
	}
	return r
}

// Appointment is one booking of a doctor's slot.
type Appointment struct {
	ID                  uuid.UUID        `json:"id"`
	PatientID           uuid.UUID        `json:"patientId"`
	DoctorID            uuid.UUID        `json:"doctorId"`
	DateKey             string           `json:"dateKey"`
	DateTime            time.Time        `json:"dateTime"`
	TimeSlot            string           `json:"timeSlot"`
	SlotBookingNumber   int              `json:"slotBookingNumber"`
	ConsultationType    ConsultationType `json:"consultationType"`
	PatientName         string           `json:"patientName"`
	PatientRelation     string           `json:"patientRelation"`
	PatientGender       string           `json:"patientGender,omitempty"`
	PatientAge          *int             `json:"patientAge,omitempty"`
	PatientContactEmail string           `json:"patientContactEmail,omitempty"`
	PatientContactPhone string           `json:"patientContactPhone,omitempty"`
	FeeMinor            int64            `json:"feeMinor"`
	Notes               string           `json:"notes,omitempty"`
	Status              Status           `json:"status"`
	CancellationReason  string           `json:"cancellationReason,omitempty"`
	CancelledBy         string           `json:"cancelledBy,omitempty"`
	PaymentStatus       PaymentStatus    `json:"paymentStatus"`
	PaymentMethod       string           `json:"paymentMethod,omitempty"`
	TransactionID       string           `json:"transactionId,omitempty"`
	GatewayOrderID      string           `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID    string           `json:"gatewayPaymentId,omitempty"`
	GatewaySignature    string           `json:"-"`
	RescheduleCount     int              `json:"rescheduleCount"`
	RescheduledAt       *time.Time       `json:"rescheduledAt,omitempty"`
	ReminderEmailSentAt *time.Time       `json:"reminderEmailSentAt,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// IsSelfBooking reports whether the quota class is self.
func (a *Appointment) IsSelfBooking() bool {
	return NormalizeRelation(a.PatientRelation) == RelationSelf
}

// CreateRequest is the booking command. Either Date (YYYY-MM-DD) or an
// RFC 3339 DateTime selects the calendar day; TimeSlot selects the slot.
type CreateRequest struct {
	DoctorID            string           `json:"doctorId"`
	Date                string           `json:"date"`
	DateTime            string           `json:"dateTime"`
	TimeSlot            string           `json:"timeSlot"`
	ConsultationType    ConsultationType `json:"consultationType"`
	PatientName         string           `json:"patientName"`
	PatientRelation     string           `json:"patientRelation"`
	PatientGender       string           `json:"patientGender"`
	PatientAge          *int             `json:"patientAge"`
	PatientContactEmail string           `json:"patientContactEmail"`
	PatientContactPhone string           `json:"patientContactPhone"`
	Notes               string           `json:"notes"`
}

// RescheduleRequest moves an appointment to another day and slot.
type RescheduleRequest struct {
	Date     string `json:"date"`
	DateTime string `json:"dateTime"`
	TimeSlot string `json:"timeSlot"`
}

// CancelRequest carries the free-text reason.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Availability is the public slot listing for a doctor and day.
type Availability struct {
	DoctorID  uuid.UUID `json:"doctorId"`
	Date      string    `json:"date"`
	Slots     []string  `json:"slots"`
	AllSlots  []string  `json:"allSlots"`
	Booked    []string  `json:"booked"`
	StepMins  int       `json:"stepMinutes"`
	Bookable  bool      `json:"bookable"`
	Generated time.Time `json:"generatedAt"`
}

// DoctorPatient summarises one patient a doctor has seen.
type DoctorPatient struct {
	PatientID         uuid.UUID `json:"patientId"`
	FullName          string    `json:"fullName"`
	Email             string    `json:"email,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	AppointmentCount  int       `json:"appointmentCount"`
	LastAppointmentAt time.Time `json:"lastAppointmentAt"`
}

// ChangeAction names an appointment change for live subscribers.
type ChangeAction string

const (
	ActionCreated     ChangeAction = "created"
	ActionCancelled   ChangeAction = "cancelled"
	ActionRescheduled ChangeAction = "rescheduled"
)
