package notify

import (
	"context"
	"log/slog"
)

// LogMailer writes emails to the log instead of sending them. Used in
// development when no mail provider is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a mailer that only logs.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.logger.Info("email (not sent, log mailer)", "to", to, "subject", subject, "bytes", len(body))
	return nil
}
