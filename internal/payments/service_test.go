package payments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-platform/internal/appointments"
	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
)

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

type fakeStore struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*appointments.Appointment
}

func (f *fakeStore) Get(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) GetByGatewayOrder(ctx context.Context, orderID string) (*appointments.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appts {
		if a.GatewayOrderID == orderID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("appointment not found for order")
}

func (f *fakeStore) SetGatewayOrder(ctx context.Context, id uuid.UUID, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.appts[id]
	if a.PaymentStatus == appointments.PaymentPaid {
		return apperr.Conflict("appointment is already paid")
	}
	a.GatewayOrderID = orderID
	return nil
}

func (f *fakeStore) RecordPaymentCaptured(ctx context.Context, id uuid.UUID, paymentID, signature string) (*appointments.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.appts[id]
	if a.PaymentStatus == appointments.PaymentPaid || !a.Status.Active() {
		return nil, apperr.Conflict("appointment is already paid or no longer active")
	}
	a.PaymentStatus = appointments.PaymentPaid
	a.Status = appointments.StatusConfirmed
	a.GatewayPaymentID = paymentID
	cp := *a
	return &cp, nil
}

func (f *fakeStore) RecordPaymentFailed(ctx context.Context, id uuid.UUID, cancel bool) (*appointments.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.appts[id]
	if a.PaymentStatus == appointments.PaymentPaid {
		return nil, apperr.Conflict("appointment is already paid")
	}
	a.PaymentStatus = appointments.PaymentFailed
	if cancel && a.Status.Active() {
		a.Status = appointments.StatusCancelled
	}
	cp := *a
	return &cp, nil
}

type fakeGateway struct {
	calls  int
	params OrderParams
	err    error
}

func (g *fakeGateway) CreateOrder(ctx context.Context, params OrderParams) (*Order, error) {
	g.calls++
	g.params = params
	if g.err != nil {
		return nil, g.err
	}
	return &Order{ID: "order_" + params.Receipt, Amount: params.AmountMinor, Currency: params.Currency}, nil
}

func (g *fakeGateway) KeyID() string { return "rzp_test_key" }

type fakeProcessed struct {
	seen map[string]bool
}

func (p *fakeProcessed) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	return p.seen[provider+":"+eventID], nil
}

func (p *fakeProcessed) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	key := provider + ":" + eventID
	if p.seen[key] {
		return false, nil
	}
	p.seen[key] = true
	return true, nil
}

type recorded struct {
	appt appointments.Appointment
	ref  string
}

type fakeRecorder struct {
	calls []recorded
}

func (r *fakeRecorder) PaymentRecorded(ctx context.Context, appt appointments.Appointment, providerRef string) {
	r.calls = append(r.calls, recorded{appt: appt, ref: providerRef})
}

type paymentFixture struct {
	store    *fakeStore
	gateway  *fakeGateway
	recorder *fakeRecorder
	svc      *Service
	patient  identity.Caller
	appt     *appointments.Appointment
}

func newPaymentFixture(enabled bool) *paymentFixture {
	patientID := uuid.New()
	appt := &appointments.Appointment{
		ID:            uuid.New(),
		DoctorID:      uuid.New(),
		PatientID:     patientID,
		FeeMinor:      50000,
		Status:        appointments.StatusPending,
		PaymentStatus: appointments.PaymentPending,
	}
	f := &paymentFixture{
		store:    &fakeStore{appts: map[uuid.UUID]*appointments.Appointment{appt.ID: appt}},
		gateway:  &fakeGateway{},
		recorder: &fakeRecorder{},
		patient:  identity.Caller{UserID: "u-1", Role: identity.RolePatient, ProfileID: patientID.String()},
		appt:     appt,
	}
	f.svc = NewService(Config{Enabled: enabled, KeySecret: testKeySecret, WebhookSecret: testWebhookSecret}, f.store, f.gateway, nil).
		WithRecorder(f.recorder).
		WithProcessed(&fakeProcessed{seen: map[string]bool{}})
	return f
}

func TestCreateOrderReusesExistingOrder(t *testing.T) {
	f := newPaymentFixture(true)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, f.patient, f.appt.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "rzp_test_key", res.KeyID)
	assert.Equal(t, int64(50000), res.Order.Amount)
	assert.Equal(t, "appointment_"+f.appt.ID.String(), f.gateway.params.Receipt)
	assert.Equal(t, "INR", f.gateway.params.Currency)

	again, err := f.svc.CreateOrder(ctx, f.patient, f.appt.ID.String())
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, again.Order.ID)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestCreateOrderRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*paymentFixture)
		caller func(*paymentFixture) identity.Caller
		kind   apperr.Kind
	}{
		{"cancelled", func(f *paymentFixture) { f.appt.Status = appointments.StatusCancelled }, nil, apperr.KindConflict},
		{"completed", func(f *paymentFixture) { f.appt.Status = appointments.StatusCompleted }, nil, apperr.KindConflict},
		{"paid", func(f *paymentFixture) { f.appt.PaymentStatus = appointments.PaymentPaid }, nil, apperr.KindConflict},
		{"zero fee", func(f *paymentFixture) { f.appt.FeeMinor = 0 }, nil, apperr.KindInvalid},
		{"gateway down", func(f *paymentFixture) { f.gateway.err = errors.New("timeout") }, nil, apperr.KindUnavailable},
		{"other patient", nil, func(f *paymentFixture) identity.Caller {
			return identity.Caller{UserID: "u-2", Role: identity.RolePatient, ProfileID: uuid.NewString()}
		}, apperr.KindNotFound},
		{"doctor", nil, func(f *paymentFixture) identity.Caller {
			return identity.Caller{UserID: "u-3", Role: identity.RoleDoctor, ProfileID: uuid.NewString()}
		}, apperr.KindForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPaymentFixture(true)
			if tc.mutate != nil {
				tc.mutate(f)
			}
			caller := f.patient
			if tc.caller != nil {
				caller = tc.caller(f)
			}
			_, err := f.svc.CreateOrder(context.Background(), caller, f.appt.ID.String())
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestDisabledPayments(t *testing.T) {
	f := newPaymentFixture(false)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, f.patient, f.appt.ID.String())
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	_, err = f.svc.Verify(ctx, f.patient, f.appt.ID.String(), VerifyRequest{})
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	assert.NoError(t, f.svc.Fail(ctx, f.patient, f.appt.ID.String()))
	assert.NoError(t, f.svc.HandleWebhook(ctx, []byte(`{}`), "", ""))
	assert.Equal(t, appointments.StatusPending, f.appt.Status)
}

func TestVerifySettlesPayment(t *testing.T) {
	f := newPaymentFixture(true)
	f.appt.GatewayOrderID = "order_1"
	req := VerifyRequest{OrderID: "order_1", PaymentID: "pay_1", Signature: sign(testKeySecret, []byte("order_1|pay_1"))}

	appt, err := f.svc.Verify(context.Background(), f.patient, f.appt.ID.String(), req)
	require.NoError(t, err)
	assert.Equal(t, appointments.PaymentPaid, appt.PaymentStatus)
	assert.Equal(t, appointments.StatusConfirmed, appt.Status)
	require.Len(t, f.recorder.calls, 1)
	assert.Equal(t, "pay_1", f.recorder.calls[0].ref)

	_, err = f.svc.Verify(context.Background(), f.patient, f.appt.ID.String(), req)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestVerifyBadSignatureMarksFailed(t *testing.T) {
	f := newPaymentFixture(true)
	f.appt.GatewayOrderID = "order_1"

	_, err := f.svc.Verify(context.Background(), f.patient, f.appt.ID.String(),
		VerifyRequest{OrderID: "order_1", PaymentID: "pay_1", Signature: "deadbeef"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	assert.Equal(t, appointments.PaymentFailed, f.appt.PaymentStatus)
	assert.Equal(t, appointments.StatusPending, f.appt.Status)

	_, err = f.svc.Verify(context.Background(), f.patient, f.appt.ID.String(),
		VerifyRequest{OrderID: "order_other", PaymentID: "pay_1", Signature: "x"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.svc.Verify(context.Background(), f.patient, f.appt.ID.String(), VerifyRequest{OrderID: "order_1"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestFailCancelsUnpaid(t *testing.T) {
	f := newPaymentFixture(true)
	require.NoError(t, f.svc.Fail(context.Background(), f.patient, f.appt.ID.String()))
	assert.Equal(t, appointments.StatusCancelled, f.appt.Status)
	assert.Equal(t, appointments.PaymentFailed, f.appt.PaymentStatus)

	paid := newPaymentFixture(true)
	paid.appt.PaymentStatus = appointments.PaymentPaid
	err := paid.svc.Fail(context.Background(), paid.patient, paid.appt.ID.String())
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func webhookBody(event, orderID, paymentID string) []byte {
	return []byte(`{"event":"` + event + `","payload":{"payment":{"entity":{"id":"` + paymentID + `","order_id":"` + orderID + `"}}}}`)
}

func TestWebhookCapturedIsIdempotent(t *testing.T) {
	f := newPaymentFixture(true)
	f.appt.GatewayOrderID = "order_1"
	body := webhookBody("payment.captured", "order_1", "pay_1")
	sig := sign(testWebhookSecret, body)

	require.NoError(t, f.svc.HandleWebhook(context.Background(), body, sig, "evt_1"))
	assert.Equal(t, appointments.PaymentPaid, f.appt.PaymentStatus)
	assert.Equal(t, appointments.StatusConfirmed, f.appt.Status)

	require.NoError(t, f.svc.HandleWebhook(context.Background(), body, sig, "evt_1"))
	assert.Len(t, f.recorder.calls, 1)
}

func TestWebhookFailedCancelsUnlessPaid(t *testing.T) {
	f := newPaymentFixture(true)
	f.appt.GatewayOrderID = "order_1"
	body := webhookBody("payment.failed", "order_1", "pay_1")
	require.NoError(t, f.svc.HandleWebhook(context.Background(), body, sign(testWebhookSecret, body), ""))
	assert.Equal(t, appointments.StatusCancelled, f.appt.Status)

	paid := newPaymentFixture(true)
	paid.appt.GatewayOrderID = "order_2"
	paid.appt.PaymentStatus = appointments.PaymentPaid
	paid.appt.Status = appointments.StatusConfirmed
	body = webhookBody("payment.failed", "order_2", "pay_2")
	require.NoError(t, paid.svc.HandleWebhook(context.Background(), body, sign(testWebhookSecret, body), ""))
	assert.Equal(t, appointments.StatusConfirmed, paid.appt.Status)
}

func TestWebhookSignatureAndUnknownOrder(t *testing.T) {
	f := newPaymentFixture(true)
	body := webhookBody("payment.captured", "order_missing", "pay_1")

	err := f.svc.HandleWebhook(context.Background(), body, "", "")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	err = f.svc.HandleWebhook(context.Background(), body, sign("wrong", body), "")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	assert.NoError(t, f.svc.HandleWebhook(context.Background(), body, sign(testWebhookSecret, body), ""))
	assert.Empty(t, f.recorder.calls)
}

func TestVerifyRequestAcceptsCamelCase(t *testing.T) {
	var req VerifyRequest
	require.NoError(t, req.UnmarshalJSON([]byte(`{"razorpayOrderId":"o","razorpay_payment_id":"p","razorpaySignature":"s"}`)))
	assert.Equal(t, VerifyRequest{OrderID: "o", PaymentID: "p", Signature: "s"}, req)
}
