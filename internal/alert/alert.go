// Package alert notifies operators about configuration defects that
// retrying cannot fix, such as a rejected inference credential.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer delivers a single operator notification.
type Mailer interface {
	Send(subject, body string) error
}

// NopMailer is used when alerting is not configured.
type NopMailer struct{}

func (NopMailer) Send(string, string) error { return nil }

type SendGridMailer struct {
	apiKey string
	from   string
	to     string
	log    zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	throttle time.Duration
}

func NewSendGridMailer(apiKey, from, to string, log zerolog.Logger) *SendGridMailer {
	return &SendGridMailer{
		apiKey:   apiKey,
		from:     from,
		to:       to,
		log:      log.With().Str("component", "alert").Logger(),
		lastSent: make(map[string]time.Time),
		throttle: 15 * time.Minute,
	}
}

// Send delivers the alert unless the same subject was already sent within
// the throttle window, so a failing credential does not flood the inbox.
func (m *SendGridMailer) Send(subject, body string) error {
	m.mu.Lock()
	last, seen := m.lastSent[subject]
	if seen && time.Since(last) < m.throttle {
		m.mu.Unlock()
		return nil
	}
	m.lastSent[subject] = time.Now()
	m.mu.Unlock()

	from := mail.NewEmail("siteqa alerts", m.from)
	to := mail.NewEmail("", m.to)
	email := mail.NewSingleEmail(from, subject, to, body, body)

	client := sendgrid.NewSendClient(m.apiKey)
	response, err := client.Send(email)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	m.log.Info().Str("subject", subject).Msg("operator alert sent")
	return nil
}
