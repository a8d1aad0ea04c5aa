package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/basekick-labs/monitorframe/internal/circuitbreaker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmail(t *testing.T) {
	e, err := NewEmail("testuser", "", "AcqImageMonitor: 2026-10-17", "2 AcqImages were found", []string{"a@stsci.edu", " b@stsci.edu "})
	require.NoError(t, err)

	assert.Equal(t, "testuser@stsci.edu", e.Sender)
	assert.Equal(t, "a@stsci.edu, b@stsci.edu", e.To())

	msg := string(e.Message())
	assert.True(t, strings.HasPrefix(msg, "From: testuser@stsci.edu\r\n"))
	assert.Contains(t, msg, "Subject: AcqImageMonitor: 2026-10-17\r\n")
	assert.Contains(t, msg, "\r\n\r\n2 AcqImages were found")
}

func TestNewEmail_Errors(t *testing.T) {
	_, err := NewEmail("testuser", "", "s", "c", nil)
	assert.ErrorIs(t, err, ErrNoRecipients)

	_, err = NewEmail("testuser", "", "s", "c", []string{"  "})
	assert.ErrorIs(t, err, ErrNoRecipients)

	_, err = NewEmail("", "", "s", "c", []string{"a@b"})
	assert.Error(t, err)
}

func TestMailer_Defaults(t *testing.T) {
	m := NewMailer(MailerConfig{}, zerolog.Nop())
	assert.Equal(t, "smtp.stsci.edu:25", m.Addr())
	assert.Equal(t, "stsci.edu", m.Domain())
}

func TestMailer_Send(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
	)
	m := NewMailer(MailerConfig{Host: "localhost", Port: 2525}, zerolog.Nop()).
		WithSendFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo = addr, from, to
			return nil
		})

	e, err := NewEmail("cosmo", "example.org", "subject", "body", []string{"x@example.org"})
	require.NoError(t, err)
	require.NoError(t, m.Send(context.Background(), e))

	assert.Equal(t, "localhost:2525", gotAddr)
	assert.Equal(t, "cosmo@example.org", gotFrom)
	assert.Equal(t, []string{"x@example.org"}, gotTo)
}

func TestMailer_SendErrors(t *testing.T) {
	relayErr := errors.New("relay refused")
	m := NewMailer(MailerConfig{}, zerolog.Nop()).
		WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error { return relayErr })

	e, err := NewEmail("cosmo", "", "s", "c", []string{"x@y"})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Send(context.Background(), e), relayErr)
	assert.Error(t, m.Send(context.Background(), nil))

	slow := NewMailer(MailerConfig{Timeout: 10 * time.Millisecond}, zerolog.Nop()).
		WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	assert.ErrorIs(t, slow.Send(context.Background(), e), context.DeadlineExceeded)
}

func TestMailer_StopsAfterRepeatedFailures(t *testing.T) {
	calls := 0
	m := NewMailer(MailerConfig{MaxFailures: 2, Cooldown: time.Hour}, zerolog.Nop()).
		WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			calls++
			return errors.New("connection refused")
		})

	e, err := NewEmail("cosmo", "", "s", "c", []string{"x@y"})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.Error(t, m.Send(context.Background(), e))
	}
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, m.Send(context.Background(), e), circuitbreaker.ErrOpen)
}
