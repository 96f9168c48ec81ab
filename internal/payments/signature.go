package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyPaymentSignature checks the checkout callback signature, the hex
// HMAC-SHA256 of "orderID|paymentID" under the key secret.
func VerifyPaymentSignature(secret, orderID, paymentID, signature string) bool {
	payload := strings.TrimSpace(orderID) + "|" + strings.TrimSpace(paymentID)
	return verifyHex(secret, []byte(payload), signature)
}

// VerifyWebhookSignature checks X-Razorpay-Signature against the raw body.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	return verifyHex(secret, body, signature)
}

func verifyHex(secret string, payload []byte, signature string) bool {
	secret = strings.TrimSpace(secret)
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(sign(secret, payload)), []byte(signature))
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
