// Package mailer implements the engine's outbound email interface over
// SMTP. Sends are best-effort: the engine fires them asynchronously and a
// failure never alters an auth outcome.
package mailer

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/brightdent/clinicauth"
)

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP is a [clinicauth.Mailer] backed by an SMTP relay.
type SMTP struct {
	client *gomail.Client
	from   string
}

// NewSMTP validates cfg and dials nothing yet; the connection is
// established per send.
func NewSMTP(cfg Config) (*SMTP, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("mailer requires host and from address")
	}

	opts := []gomail.Option{
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Port > 0 {
		opts = append(opts, gomail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	return &SMTP{client: client, from: cfg.From}, nil
}

// Send delivers one message. The caller bounds ctx; cancellation aborts
// the dial or delivery in flight.
func (s *SMTP) Send(ctx context.Context, msg clinicauth.Email) error {
	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return err
	}
	if err := m.To(msg.To); err != nil {
		return err
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)

	return s.client.DialAndSendWithContext(ctx, m)
}
