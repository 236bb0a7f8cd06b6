// Package notify holds outbound notification clients: user email via
// Resend and operator alerts via SNS.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v3"
)

// ResendConfig options for the Resend mailer
type ResendConfig struct {
	APIKey string
	From   string // Sender address, e.g. "TripShare <noreply@tripshare.example>"
}

// ResendMailer sends plain-text email through the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
}

// NewResendMailer creates a new Resend mailer
func NewResendMailer(config ResendConfig) (*ResendMailer, error) {
	if config.APIKey == "" {
		return nil, errors.New("resend API key is required")
	}
	if config.From == "" {
		return nil, errors.New("sender address is required")
	}
	return &ResendMailer{
		client: resend.NewClient(config.APIKey),
		from:   config.From,
	}, nil
}

// Send delivers one plain-text email.
func (m *ResendMailer) Send(ctx context.Context, to, subject, body string) error {
	_, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
