package notify

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// AppointmentEmailKind selects an appointment email template.
type AppointmentEmailKind string

const (
	EmailBooked      AppointmentEmailKind = "booked"
	EmailRescheduled AppointmentEmailKind = "rescheduled"
	EmailCancelled   AppointmentEmailKind = "cancelled"
	EmailReminder    AppointmentEmailKind = "reminder"
)

// AppointmentDetails is what the appointment templates render.
type AppointmentDetails struct {
	AppointmentID    string
	To               string
	PatientName      string
	DoctorName       string
	Start            time.Time
	TimeSlot         string
	ConsultationType string
	Location         string
	FeeMinor         int64
	Reason           string
	CancelledBy      string
}

func (d AppointmentDetails) when() string {
	day := d.Start.Format("Monday, January 2, 2006")
	if d.TimeSlot != "" {
		return day + " at " + d.TimeSlot
	}
	return day + " at " + d.Start.Format("03:04 PM")
}

func consultationLabel(t string) string {
	switch t {
	case "online_video":
		return "Online video consultation"
	case "online_chat":
		return "Online chat consultation"
	default:
		return "In-clinic visit"
	}
}

func formatFee(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// RenderAppointmentEmail builds the text and HTML bodies for kind.
func RenderAppointmentEmail(kind AppointmentEmailKind, d AppointmentDetails) (EmailMessage, error) {
	if strings.TrimSpace(d.To) == "" {
		return EmailMessage{}, fmt.Errorf("notify: appointment email has no recipient")
	}
	name := d.PatientName
	if name == "" {
		name = "there"
	}
	doctor := d.DoctorName
	if doctor == "" {
		doctor = "your doctor"
	}

	var subject, lead string
	switch kind {
	case EmailBooked:
		subject = "Your appointment is booked"
		lead = fmt.Sprintf("Your appointment with %s is booked.", doctor)
	case EmailRescheduled:
		subject = "Your appointment was rescheduled"
		lead = fmt.Sprintf("Your appointment with %s has moved to a new time.", doctor)
	case EmailCancelled:
		subject = "Your appointment was cancelled"
		lead = fmt.Sprintf("Your appointment with %s has been cancelled.", doctor)
	case EmailReminder:
		subject = "Reminder: upcoming appointment"
		lead = fmt.Sprintf("This is a reminder of your upcoming appointment with %s.", doctor)
	default:
		return EmailMessage{}, fmt.Errorf("notify: unknown appointment email %q", kind)
	}

	lines := []string{
		"When: " + d.when(),
		"Type: " + consultationLabel(d.ConsultationType),
	}
	if d.Location != "" && d.ConsultationType == "in_clinic" {
		lines = append(lines, "Where: "+d.Location)
	}
	if d.FeeMinor > 0 && kind == EmailBooked {
		lines = append(lines, "Fee: "+formatFee(d.FeeMinor))
	}
	if kind == EmailCancelled && d.Reason != "" {
		lines = append(lines, "Reason: "+d.Reason)
	}
	if d.AppointmentID != "" {
		lines = append(lines, "Reference: "+d.AppointmentID)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n%s\n\n", name, lead)
	for _, l := range lines {
		text.WriteString(l + "\n")
	}

	var htmlBody strings.Builder
	fmt.Fprintf(&htmlBody, "<p>Hi %s,</p><p>%s</p><ul>", html.EscapeString(name), html.EscapeString(lead))
	for _, l := range lines {
		fmt.Fprintf(&htmlBody, "<li>%s</li>", html.EscapeString(l))
	}
	htmlBody.WriteString("</ul>")

	return EmailMessage{
		To:      d.To,
		ToName:  d.PatientName,
		Subject: subject,
		Body:    text.String(),
		HTML:    htmlBody.String(),
	}, nil
}
