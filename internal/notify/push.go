package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

const (
	defaultOneSignalBase = "https://onesignal.com/api/v1"
	defaultPushTimeout   = 10 * time.Second
)

// PushMessage is a notification addressed to application user ids.
type PushMessage struct {
	UserIDs []string
	Heading string
	Content string
	Data    map[string]any
}

// PushSender delivers push notifications.
type PushSender interface {
	Push(ctx context.Context, msg PushMessage) error
}

// OneSignalSender sends push notifications through the OneSignal REST API,
// targeting devices by external user id.
type OneSignalSender struct {
	appID      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewOneSignalSender returns nil when credentials are missing.
func NewOneSignalSender(appID, apiKey string, logger *logging.Logger) *OneSignalSender {
	if appID == "" || apiKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OneSignalSender{
		appID:      appID,
		apiKey:     apiKey,
		baseURL:    defaultOneSignalBase,
		httpClient: &http.Client{Timeout: defaultPushTimeout},
		logger:     logger,
	}
}

// SetBaseURL overrides the API base URL (useful for testing).
func (s *OneSignalSender) SetBaseURL(base string) {
	s.baseURL = base
}

type oneSignalRequest struct {
	AppID                  string            `json:"app_id"`
	IncludeExternalUserIDs []string          `json:"include_external_user_ids"`
	Channel                string            `json:"channel_for_external_user_ids"`
	Headings               map[string]string `json:"headings"`
	Contents               map[string]string `json:"contents"`
	Data                   map[string]any    `json:"data,omitempty"`
}

// Push sends msg. Messages without recipients are dropped.
func (s *OneSignalSender) Push(ctx context.Context, msg PushMessage) error {
	if s == nil {
		return fmt.Errorf("notify: onesignal not configured")
	}
	if len(msg.UserIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(oneSignalRequest{
		AppID:                  s.appID,
		IncludeExternalUserIDs: msg.UserIDs,
		Channel:                "push",
		Headings:               map[string]string{"en": msg.Heading},
		Contents:               map[string]string{"en": msg.Content},
		Data:                   msg.Data,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.Error("onesignal returned error status", "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("notify: onesignal returned status %d", resp.StatusCode)
	}
	s.logger.Debug("push sent", "recipients", len(msg.UserIDs), "heading", msg.Heading)
	return nil
}

// StubPushSender logs instead of sending.
type StubPushSender struct {
	logger *logging.Logger
}

func NewStubPushSender(logger *logging.Logger) *StubPushSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubPushSender{logger: logger}
}

func (s *StubPushSender) Push(ctx context.Context, msg PushMessage) error {
	s.logger.Info("stub push sender: would send push", "recipients", msg.UserIDs, "heading", msg.Heading)
	return nil
}
