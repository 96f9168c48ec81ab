package bootstrap

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"

	appconfig "github.com/wolfman30/clinic-booking-platform/internal/config"
	"github.com/wolfman30/clinic-booking-platform/internal/notify"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

type nopSES struct{}

func (nopSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return &sesv2.SendEmailOutput{}, nil
}

func TestBuildEmailSender(t *testing.T) {
	logger := logging.New("error")
	cases := []struct {
		name     string
		cfg      appconfig.Config
		ses      notify.SESAPI
		expected string
	}{
		{name: "auto prefers sendgrid", cfg: appconfig.Config{EmailProvider: "auto", SendGridAPIKey: "SG.key", SESFromEmail: "clinic@example.com"}, ses: nopSES{}, expected: "sendgrid"},
		{name: "auto falls back to ses", cfg: appconfig.Config{EmailProvider: "auto", SESFromEmail: "clinic@example.com"}, ses: nopSES{}, expected: "ses"},
		{name: "forced ses", cfg: appconfig.Config{EmailProvider: "ses", SendGridAPIKey: "SG.key", SESFromEmail: "clinic@example.com"}, ses: nopSES{}, expected: "ses"},
		{name: "forced sendgrid without key", cfg: appconfig.Config{EmailProvider: "sendgrid"}, ses: nopSES{}, expected: "stub"},
		{name: "ses without client", cfg: appconfig.Config{EmailProvider: "ses", SESFromEmail: "clinic@example.com"}, expected: "stub"},
		{name: "stub forced", cfg: appconfig.Config{EmailProvider: "stub", SendGridAPIKey: "SG.key"}, expected: "stub"},
		{name: "nothing configured", cfg: appconfig.Config{EmailProvider: "auto"}, expected: "stub"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender, provider := BuildEmailSender(&tc.cfg, tc.ses, logger)
			assert.Equal(t, tc.expected, provider)
			if tc.expected == "stub" {
				assert.Nil(t, sender)
			} else {
				assert.NotNil(t, sender)
			}
		})
	}
}

func TestBuildPushSender(t *testing.T) {
	assert.Nil(t, BuildPushSender(&appconfig.Config{}, nil))
	assert.NotNil(t, BuildPushSender(&appconfig.Config{OneSignalAppID: "app", OneSignalAPIKey: "key"}, nil))
}
