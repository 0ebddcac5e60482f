package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"

	"github.com/yairfalse/rankwatch/pkg/types"
)

// EmailOptions configures SMTP delivery
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Email sends the plain-text report to a list of recipients
type Email struct {
	opts EmailOptions
	send sendFunc
}

// NewEmail creates an email notifier
func NewEmail(opts EmailOptions) *Email {
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &Email{
		opts: opts,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Notify implements Notifier
func (m *Email) Notify(ctx context.Context, report *types.RunReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := m.Build(report)
	addr := fmt.Sprintf("%s:%d", m.opts.Host, m.opts.Port)

	var auth smtp.Auth
	if m.opts.Password != "" {
		user := m.opts.Username
		if user == "" {
			user = m.opts.From
		}
		auth = smtp.PlainAuth("", user, m.opts.Password, m.opts.Host)
	}

	err := m.send(msg, addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = m.send(msg, addr, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to send email via %s: %w", addr, err)
	}
	return nil
}

// Build assembles the message without sending it
func (m *Email) Build(report *types.RunReport) *email.Email {
	msg := email.NewEmail()
	msg.From = fmt.Sprintf("rankwatch <%s>", m.opts.From)
	msg.To = m.opts.To
	msg.Subject = Subject(report)

	msg.Text = []byte(plainConsole().Render(report))
	return msg
}
