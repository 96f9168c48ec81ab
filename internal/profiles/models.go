package profiles

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/scheduling"
)

// ApprovalStatus tracks the admin review of a doctor registration.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Valid reports whether s is a known approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Address is a doctor's clinic location.
type Address struct {
	Line  string `json:"line,omitempty"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

// String renders the address on one line for emails.
func (a Address) String() string {
	out := ""
	for _, part := range []string{a.Line, a.City, a.State} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	return out
}

// Doctor is the bookable side of an appointment.
type Doctor struct {
	ID                   uuid.UUID         `json:"id"`
	UserID               string            `json:"userId"`
	FullName             string            `json:"fullName"`
	Email                string            `json:"email,omitempty"`
	Specialty            string            `json:"specialty,omitempty"`
	ConsultationFeeMinor int64             `json:"consultationFeeMinor"`
	ClinicAddress        Address           `json:"clinicAddress"`
	ApprovalStatus       ApprovalStatus    `json:"approvalStatus"`
	IsOnline             bool              `json:"isOnline"`
	Timing               scheduling.Timing `json:"timing"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// Approved reports whether admins accepted the registration.
func (d *Doctor) Approved() bool {
	return d != nil && d.ApprovalStatus == ApprovalApproved
}

// Patient owns appointments.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
