package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

var razorpayTracer = otel.Tracer("clinic.internal.payments.razorpay")

// OrderParams describes a gateway order for one appointment.
type OrderParams struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Order is the gateway's view of a created order.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	Status   string `json:"status,omitempty"`
}

// RazorpayClient creates orders through the Razorpay REST API.
type RazorpayClient struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewRazorpayClient(keyID, keySecret string, logger *logging.Logger) *RazorpayClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &RazorpayClient{
		keyID:      strings.TrimSpace(keyID),
		keySecret:  strings.TrimSpace(keySecret),
		baseURL:    "https://api.razorpay.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the API host (tests).
func (c *RazorpayClient) WithBaseURL(baseURL string) *RazorpayClient {
	if baseURL == "" {
		return c
	}
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Enabled reports whether key credentials are configured.
func (c *RazorpayClient) Enabled() bool {
	return c != nil && c.keyID != "" && c.keySecret != ""
}

// KeyID is the public key the checkout widget needs.
func (c *RazorpayClient) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, params OrderParams) (*Order, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("payments: razorpay is not configured")
	}
	if params.AmountMinor <= 0 {
		return nil, fmt.Errorf("payments: order amount must be positive")
	}
	ctx, span := razorpayTracer.Start(ctx, "razorpay.create_order")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.receipt", params.Receipt),
		attribute.Int64("clinic.amount_minor", params.AmountMinor),
	)

	currency := params.Currency
	if currency == "" {
		currency = "INR"
	}
	body := map[string]any{
		"amount":   params.AmountMinor,
		"currency": currency,
	}
	if params.Receipt != "" {
		body["receipt"] = params.Receipt
	}
	if len(params.Notes) > 0 {
		body["notes"] = params.Notes
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("payments: razorpay payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("payments: razorpay request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("payments: razorpay http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("payments: razorpay api status %d: %s", resp.StatusCode, string(body))
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("payments: razorpay decode: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("payments: razorpay response missing order id")
	}
	c.logger.Debug("razorpay order created", "order_id", order.ID, "receipt", params.Receipt)
	return &order, nil
}
