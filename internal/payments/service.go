// Package payments collects appointment fees through Razorpay orders and
// settles them from the checkout callback or the gateway webhook.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/appointments"
	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

const providerRazorpay = "razorpay"

// AppointmentStore is the slice of the appointment store payments touch.
type AppointmentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
	GetByGatewayOrder(ctx context.Context, orderID string) (*appointments.Appointment, error)
	SetGatewayOrder(ctx context.Context, id uuid.UUID, orderID string) error
	RecordPaymentCaptured(ctx context.Context, id uuid.UUID, paymentID, signature string) (*appointments.Appointment, error)
	RecordPaymentFailed(ctx context.Context, id uuid.UUID, cancel bool) (*appointments.Appointment, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, params OrderParams) (*Order, error)
	KeyID() string
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Recorder receives settled payments (audit and outbox).
type Recorder interface {
	PaymentRecorded(ctx context.Context, appt appointments.Appointment, providerRef string)
}

type Config struct {
	Enabled       bool
	KeySecret     string
	WebhookSecret string
	Currency      string
}

// Service implements the payment operations.
type Service struct {
	cfg       Config
	store     AppointmentStore
	gateway   Gateway
	processed processedTracker
	recorder  Recorder
	logger    *logging.Logger
}

func NewService(cfg Config, store AppointmentStore, gateway Gateway, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{cfg: cfg, store: store, gateway: gateway, logger: logger}
}

func (s *Service) WithProcessed(p processedTracker) *Service {
	s.processed = p
	return s
}

func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// Enabled reports whether payments are switched on.
func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled
}

// OrderResult is what the checkout widget needs to open.
type OrderResult struct {
	KeyID string `json:"keyId"`
	Order Order  `json:"order"`
}

// CreateOrder returns the appointment's gateway order, creating one on the
// first call.
func (s *Service) CreateOrder(ctx context.Context, caller identity.Caller, appointmentID string) (*OrderResult, error) {
	if !s.Enabled() {
		return nil, apperr.Unavailable("payments are disabled")
	}
	appt, err := s.ownedAppointment(ctx, caller, appointmentID, "initiate")
	if err != nil {
		return nil, err
	}
	if err := payable(appt); err != nil {
		return nil, err
	}
	if appt.PaymentStatus == appointments.PaymentPaid {
		return nil, apperr.Conflict("appointment is already paid")
	}

	if orderID := strings.TrimSpace(appt.GatewayOrderID); orderID != "" {
		return &OrderResult{
			KeyID: s.gateway.KeyID(),
			Order: Order{ID: orderID, Amount: appt.FeeMinor, Currency: s.cfg.Currency},
		}, nil
	}
	if appt.FeeMinor <= 0 {
		return nil, apperr.Invalid("appointment fee is invalid")
	}

	order, err := s.gateway.CreateOrder(ctx, OrderParams{
		AmountMinor: appt.FeeMinor,
		Currency:    s.cfg.Currency,
		Receipt:     "appointment_" + appt.ID.String(),
		Notes: map[string]string{
			"appointmentId": appt.ID.String(),
			"doctorId":      appt.DoctorID.String(),
		},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "payment gateway unavailable")
	}
	if err := s.store.SetGatewayOrder(ctx, appt.ID, order.ID); err != nil {
		return nil, err
	}
	return &OrderResult{KeyID: s.gateway.KeyID(), Order: *order}, nil
}

// VerifyRequest carries the checkout callback fields.
type VerifyRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// UnmarshalJSON accepts both snake_case and camelCase field names.
func (v *VerifyRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		OrderID        string `json:"razorpay_order_id"`
		PaymentID      string `json:"razorpay_payment_id"`
		Signature      string `json:"razorpay_signature"`
		OrderIDCamel   string `json:"razorpayOrderId"`
		PaymentIDCamel string `json:"razorpayPaymentId"`
		SignatureCamel string `json:"razorpaySignature"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.OrderID = firstNonEmpty(raw.OrderID, raw.OrderIDCamel)
	v.PaymentID = firstNonEmpty(raw.PaymentID, raw.PaymentIDCamel)
	v.Signature = firstNonEmpty(raw.Signature, raw.SignatureCamel)
	return nil
}

// Verify settles a payment from the checkout callback. A bad signature
// marks the payment failed and leaves the appointment pending.
func (s *Service) Verify(ctx context.Context, caller identity.Caller, appointmentID string, req VerifyRequest) (*appointments.Appointment, error) {
	if !s.Enabled() {
		return nil, apperr.Unavailable("payments are disabled")
	}
	appt, err := s.ownedAppointment(ctx, caller, appointmentID, "verify")
	if err != nil {
		return nil, err
	}
	if err := payable(appt); err != nil {
		return nil, err
	}
	orderID := strings.TrimSpace(req.OrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return nil, apperr.Invalid("razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
	}
	if strings.TrimSpace(appt.GatewayOrderID) != orderID {
		return nil, apperr.Invalid("order id does not match appointment")
	}

	if !VerifyPaymentSignature(s.cfg.KeySecret, orderID, paymentID, signature) {
		failed, ferr := s.store.RecordPaymentFailed(ctx, appt.ID, false)
		if ferr != nil && !apperr.IsKind(ferr, apperr.KindConflict) {
			s.logger.Error("payments: record verification failure", "appointment_id", appt.ID, "error", ferr)
		} else if ferr == nil {
			s.record(ctx, *failed, paymentID)
		}
		return nil, apperr.Invalid("payment verification failed")
	}

	paid, err := s.store.RecordPaymentCaptured(ctx, appt.ID, paymentID, signature)
	if err != nil {
		return nil, err
	}
	s.record(ctx, *paid, paymentID)
	return paid, nil
}

// Fail marks an unpaid appointment's payment failed and cancels it,
// releasing the slot. Disabled payments make it a no-op.
func (s *Service) Fail(ctx context.Context, caller identity.Caller, appointmentID string) error {
	if !s.Enabled() {
		return nil
	}
	appt, err := s.ownedAppointment(ctx, caller, appointmentID, "update")
	if err != nil {
		return err
	}
	if appt.PaymentStatus == appointments.PaymentPaid {
		return apperr.Conflict("paid appointment cannot be marked failed")
	}
	failed, err := s.store.RecordPaymentFailed(ctx, appt.ID, true)
	if err != nil {
		return err
	}
	s.record(ctx, *failed, "")
	return nil
}

type webhookEvent struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandleWebhook applies a signed gateway event. Unknown orders and events
// are acknowledged without effect; a redelivered event id is skipped.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) error {
	if !s.Enabled() {
		return nil
	}
	if strings.TrimSpace(signature) == "" {
		return apperr.Invalid("missing webhook signature")
	}
	if !VerifyWebhookSignature(s.cfg.WebhookSecret, body, signature) {
		return apperr.Invalid("invalid webhook signature")
	}
	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return apperr.Invalid("malformed webhook payload")
	}
	if eventID = firstNonEmpty(eventID, evt.ID); eventID == "" {
		eventID = evt.Event + ":" + evt.Payload.Payment.Entity.ID
	}
	log := s.logger.With("event", evt.Event, "event_id", eventID)

	if s.processed != nil {
		done, err := s.processed.AlreadyProcessed(ctx, providerRazorpay, eventID)
		if err != nil {
			return fmt.Errorf("payments: webhook dedupe: %w", err)
		}
		if done {
			log.Debug("payments: duplicate webhook skipped")
			return nil
		}
	}

	if err := s.applyEvent(ctx, evt); err != nil {
		return err
	}

	if s.processed != nil {
		if _, err := s.processed.MarkProcessed(ctx, providerRazorpay, eventID); err != nil {
			log.Warn("payments: mark processed failed", "error", err)
		}
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, evt webhookEvent) error {
	orderID := strings.TrimSpace(evt.Payload.Payment.Entity.OrderID)
	paymentID := strings.TrimSpace(evt.Payload.Payment.Entity.ID)
	if orderID == "" {
		return nil
	}
	appt, err := s.store.GetByGatewayOrder(ctx, orderID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			s.logger.Warn("payments: webhook for unknown order", "order_id", orderID)
			return nil
		}
		return err
	}
	if appt.PaymentStatus == appointments.PaymentPaid && appt.Status == appointments.StatusConfirmed {
		return nil
	}

	var updated *appointments.Appointment
	switch evt.Event {
	case "payment.captured":
		updated, err = s.store.RecordPaymentCaptured(ctx, appt.ID, paymentID, "")
	case "payment.failed":
		if appt.PaymentStatus == appointments.PaymentPaid {
			return nil
		}
		updated, err = s.store.RecordPaymentFailed(ctx, appt.ID, true)
	default:
		return nil
	}
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			return nil
		}
		return err
	}
	s.record(ctx, *updated, paymentID)
	return nil
}

func (s *Service) ownedAppointment(ctx context.Context, caller identity.Caller, appointmentID, verb string) (*appointments.Appointment, error) {
	if !caller.IsPatient() {
		return nil, apperr.Forbidden("only patients can %s payments", verb)
	}
	id, err := uuid.Parse(strings.TrimSpace(appointmentID))
	if err != nil {
		return nil, apperr.Invalid("valid appointmentId is required")
	}
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID.String() != caller.ProfileID {
		return nil, apperr.NotFound("appointment not found")
	}
	return appt, nil
}

func payable(appt *appointments.Appointment) error {
	switch appt.Status {
	case appointments.StatusCancelled:
		return apperr.Conflict("cancelled appointment cannot be paid")
	case appointments.StatusCompleted:
		return apperr.Conflict("completed appointment cannot be paid")
	}
	return nil
}

func (s *Service) record(ctx context.Context, appt appointments.Appointment, providerRef string) {
	if s.recorder != nil {
		s.recorder.PaymentRecorded(ctx, appt, providerRef)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
