package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/basekick-labs/monitorframe/internal/circuitbreaker"
	"github.com/basekick-labs/monitorframe/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	DefaultSMTPHost     = "smtp.stsci.edu"
	DefaultSMTPPort     = 25
	DefaultSenderDomain = "stsci.edu"
)

// ErrNoRecipients is returned when an email has nobody to send to
var ErrNoRecipients = errors.New("email has no recipients")

// Email is a plain-text notification message
type Email struct {
	Sender     string
	Recipients []string
	Subject    string
	Content    string
}

// NewEmail composes a message from username@domain to recipients
func NewEmail(username, domain, subject, content string, recipients []string) (*Email, error) {
	if username == "" {
		return nil, fmt.Errorf("email sender username is required")
	}
	var to []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}
	if domain == "" {
		domain = DefaultSenderDomain
	}

	return &Email{
		Sender:     username + "@" + domain,
		Recipients: to,
		Subject:    subject,
		Content:    content,
	}, nil
}

// To returns the recipients joined for the To header
func (e *Email) To() string {
	return strings.Join(e.Recipients, ", ")
}

// Message renders the RFC 5322 message
func (e *Email) Message() []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", e.Sender)
	fmt.Fprintf(&sb, "To: %s\r\n", e.To())
	fmt.Fprintf(&sb, "Subject: %s\r\n", e.Subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	sb.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(e.Content, "\n", "\r\n"))
	return []byte(sb.String())
}

// MailerConfig configures SMTP delivery
type MailerConfig struct {
	Host         string
	Port         int
	SenderDomain string
	Timeout      time.Duration

	// MaxFailures consecutive send failures stop delivery for Cooldown
	MaxFailures int
	Cooldown    time.Duration
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers emails through an SMTP relay
type Mailer struct {
	cfg     MailerConfig
	send    SendFunc
	breaker *circuitbreaker.Breaker
	logger  zerolog.Logger
}

// NewMailer creates a mailer; zero config fields take their defaults
func NewMailer(cfg MailerConfig, logger zerolog.Logger) *Mailer {
	if cfg.Host == "" {
		cfg.Host = DefaultSMTPHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultSMTPPort
	}
	if cfg.SenderDomain == "" {
		cfg.SenderDomain = DefaultSenderDomain
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Mailer{
		cfg:  cfg,
		send: smtp.SendMail,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "smtp",
			MaxFailures: cfg.MaxFailures,
			Cooldown:    cfg.Cooldown,
		}, logger),
		logger: logger.With().Str("component", "mailer").Logger(),
	}
}

// WithSendFunc replaces the delivery function
func (m *Mailer) WithSendFunc(fn SendFunc) *Mailer {
	m.send = fn
	return m
}

// Domain returns the sender domain
func (m *Mailer) Domain() string {
	return m.cfg.SenderDomain
}

// Addr returns host:port of the relay
func (m *Mailer) Addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

// Send delivers e, giving up when ctx is done or the configured timeout passes
func (m *Mailer) Send(ctx context.Context, e *Email) error {
	if e == nil {
		return fmt.Errorf("no email to send")
	}
	if len(e.Recipients) == 0 {
		return ErrNoRecipients
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	err := m.breaker.Do(func() error {
		done := make(chan error, 1)
		go func() {
			done <- m.send(m.Addr(), nil, e.Sender, e.Recipients, e.Message())
		}()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		metrics.Get().IncNotificationErrors()
		m.logger.Error().Err(err).Str("subject", e.Subject).Str("to", e.To()).Msg("Failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}

	metrics.Get().IncNotificationsSent()
	m.logger.Info().
		Str("subject", e.Subject).
		Str("to", e.To()).
		Msg("Sent notification email")
	return nil
}
