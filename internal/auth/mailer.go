package auth

import (
	"context"

	"github.com/slok/taskdash/internal/log"
)

// Mailer delivers auth emails.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// NewLogMailer returns a mailer that logs the links instead of sending them,
// for self hosted setups without an email provider.
func NewLogMailer(logger log.Logger) Mailer {
	return logMailer{logger: logger}
}

type logMailer struct {
	logger log.Logger
}

func (m logMailer) SendMagicLink(ctx context.Context, email, link string) error {
	m.logger.WithValues(log.Kv{"email": email}).Infof("Magic link: %s", link)
	return nil
}
