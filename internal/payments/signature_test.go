package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyPaymentSignature(t *testing.T) {
	good := sign("secret", []byte("order_1|pay_1"))
	tests := []struct {
		name    string
		secret  string
		order   string
		payment string
		sig     string
		want    bool
	}{
		{"valid", "secret", "order_1", "pay_1", good, true},
		{"trims ids", "secret", " order_1 ", "pay_1 ", good, true},
		{"wrong payment", "secret", "order_1", "pay_2", good, false},
		{"wrong secret", "other", "order_1", "pay_1", good, false},
		{"empty signature", "secret", "order_1", "pay_1", "", false},
		{"no secret", "", "order_1", "pay_1", good, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyPaymentSignature(tt.secret, tt.order, tt.payment, tt.sig))
		})
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	assert.True(t, VerifyWebhookSignature("wh", body, sign("wh", body)))
	assert.False(t, VerifyWebhookSignature("wh", append(body, ' '), sign("wh", body)))
}
