package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"

	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
)

// Alerter notifies operators about failed runs
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

// SMTPConfig holds the mail server settings
type SMTPConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	To       string
}

// sendFunc matches (*email.Email).Send
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// EmailAlerter sends alerts by mail
type EmailAlerter struct {
	cfg  SMTPConfig
	send sendFunc
	log  *logger.Logger
}

// NewEmailAlerter creates an alerter sending to cfg.To
func NewEmailAlerter(cfg SMTPConfig) *EmailAlerter {
	return &EmailAlerter{
		cfg: cfg,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
		log: logger.ForAlert(),
	}
}

// Alert sends one mail. Servers without AUTH get an unauthenticated retry.
func (a *EmailAlerter) Alert(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("eSIM Worker <%s>", a.cfg.User)
	mail.To = []string{a.cfg.To}
	mail.Subject = subject
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", a.cfg.Server, a.cfg.Port)
	var auth smtp.Auth
	if a.cfg.User != "" {
		auth = smtp.PlainAuth("", a.cfg.User, a.cfg.Password, a.cfg.Server)
	}

	err := a.send(mail, addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = a.send(mail, addr, nil)
	}
	if err != nil {
		return errors.NewPublisher("smtp", "failed to send alert", err)
	}

	a.log.Info().Str("to", a.cfg.To).Str("subject", subject).Msg("Alert sent")
	return nil
}

// LogAlerter writes alerts to the error log
type LogAlerter struct {
	log *logger.Logger
}

// NewLogAlerter creates an alerter that only logs
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{log: logger.ForAlert()}
}

// Alert logs the alert
func (a *LogAlerter) Alert(ctx context.Context, subject, body string) error {
	a.log.Error().Str("subject", subject).Msg(body)
	return nil
}

// New returns an email alerter when a server and recipient are set,
// otherwise a log alerter
func New(cfg SMTPConfig) Alerter {
	if cfg.Server == "" || cfg.To == "" {
		return NewLogAlerter()
	}
	return NewEmailAlerter(cfg)
}
