package bootstrap

import (
	appconfig "github.com/wolfman30/clinic-booking-platform/internal/config"
	"github.com/wolfman30/clinic-booking-platform/internal/notify"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// BuildEmailSender picks the email provider. "sendgrid" and "ses" force a
// provider, "stub" disables delivery, and "auto" prefers SendGrid when an
// API key is set. A nil return means the caller should use the stub.
func BuildEmailSender(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) (notify.EmailSender, string) {
	if cfg == nil {
		return nil, "stub"
	}
	if logger == nil {
		logger = logging.Default()
	}

	sendgrid := func() notify.EmailSender {
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
		return nil
	}
	sesSender := func() notify.EmailSender {
		if cfg.SESFromEmail == "" {
			return nil
		}
		if s := notify.NewSESSender(ses, notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); s != nil {
			return s
		}
		return nil
	}

	switch cfg.EmailProvider {
	case "stub":
		return nil, "stub"
	case "sendgrid":
		if s := sendgrid(); s != nil {
			return s, "sendgrid"
		}
		logger.Warn("EMAIL_PROVIDER=sendgrid but SENDGRID_API_KEY is empty")
	case "ses":
		if s := sesSender(); s != nil {
			return s, "ses"
		}
		logger.Warn("EMAIL_PROVIDER=ses but SES is not configured")
	default:
		if s := sendgrid(); s != nil {
			return s, "sendgrid"
		}
		if s := sesSender(); s != nil {
			return s, "ses"
		}
	}
	return nil, "stub"
}

// BuildPushSender returns the OneSignal sender, or nil without credentials.
func BuildPushSender(cfg *appconfig.Config, logger *logging.Logger) notify.PushSender {
	if cfg == nil {
		return nil
	}
	if s := notify.NewOneSignalSender(cfg.OneSignalAppID, cfg.OneSignalAPIKey, logger); s != nil {
		return s
	}
	return nil
}
