package notify

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// Service renders appointment notifications and hands them to the
// configured email and push senders.
type Service struct {
	email  EmailSender
	push   PushSender
	logger *logging.Logger
}

// NewService creates a notification service. Nil senders fall back to the
// logging stubs.
func NewService(email EmailSender, push PushSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	if push == nil {
		push = NewStubPushSender(logger)
	}
	return &Service{email: email, push: push, logger: logger}
}

// SendAppointmentEmail renders and sends one appointment email.
func (s *Service) SendAppointmentEmail(ctx context.Context, kind AppointmentEmailKind, d AppointmentDetails) error {
	msg, err := RenderAppointmentEmail(kind, d)
	if err != nil {
		return err
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %s email: %w", kind, err)
	}
	return nil
}

// PushToUsers sends a push notification to application user ids.
func (s *Service) PushToUsers(ctx context.Context, userIDs []string, heading, content string, data map[string]any) error {
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return s.push.Push(ctx, PushMessage{UserIDs: ids, Heading: heading, Content: content, Data: data})
}
