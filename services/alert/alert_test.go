package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalpass/esimworker/logger"
)

type sent struct {
	mail *email.Email
	addr string
	auth smtp.Auth
}

func recordingAlerter(cfg SMTPConfig, fail func(auth smtp.Auth) error) (*EmailAlerter, *[]sent) {
	var calls []sent
	a := NewEmailAlerter(cfg)
	a.log = logger.Nop()
	a.send = func(e *email.Email, addr string, auth smtp.Auth) error {
		calls = append(calls, sent{mail: e, addr: addr, auth: auth})
		if fail != nil {
			return fail(auth)
		}
		return nil
	}
	return a, &calls
}

var smtpConfig = SMTPConfig{
	Server:   "smtp.example.com",
	Port:     587,
	User:     "worker@example.com",
	Password: "secret",
	To:       "ops@example.com",
}

func TestEmailAlerter(t *testing.T) {
	a, calls := recordingAlerter(smtpConfig, nil)

	err := a.Alert(context.Background(), "2 targets failed", "- airalo / Japan")
	require.NoError(t, err)
	require.Len(t, *calls, 1)

	call := (*calls)[0]
	assert.Equal(t, "smtp.example.com:587", call.addr)
	assert.NotNil(t, call.auth)
	assert.Equal(t, []string{"ops@example.com"}, call.mail.To)
	assert.Equal(t, "2 targets failed", call.mail.Subject)
	assert.Equal(t, "- airalo / Japan", string(call.mail.Text))
	assert.Contains(t, call.mail.From, "worker@example.com")
}

func TestEmailAlerterRetriesWithoutAuth(t *testing.T) {
	a, calls := recordingAlerter(smtpConfig, func(auth smtp.Auth) error {
		if auth != nil {
			return fmt.Errorf("smtp: server doesn't support AUTH")
		}
		return nil
	})

	require.NoError(t, a.Alert(context.Background(), "s", "b"))
	require.Len(t, *calls, 2)
	assert.Nil(t, (*calls)[1].auth)
}

func TestEmailAlerterFailure(t *testing.T) {
	a, _ := recordingAlerter(smtpConfig, func(smtp.Auth) error {
		return fmt.Errorf("connection refused")
	})

	err := a.Alert(context.Background(), "s", "b")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	assert.IsType(t, &LogAlerter{}, New(SMTPConfig{}))
	assert.IsType(t, &LogAlerter{}, New(SMTPConfig{Server: "smtp.example.com"}))
	assert.IsType(t, &EmailAlerter{}, New(smtpConfig))

	assert.NoError(t, NewLogAlerter().Alert(context.Background(), "s", "b"))
}
