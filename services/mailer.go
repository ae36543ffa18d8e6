package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Email is an outbound HTML message
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends e-mail
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SMTPMailer delivers mail through an SMTP relay
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer creates an SMTPMailer
func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/html", email.HTML)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", email.To, err)
	}
	return nil
}

// LogMailer only logs outgoing mail; used when SMTP is not configured
type LogMailer struct {
	log logrus.FieldLogger
}

func NewLogMailer(log logrus.FieldLogger) *LogMailer {
	return &LogMailer{log: log.WithField("component", "mailer")}
}

func (m *LogMailer) Send(ctx context.Context, email Email) error {
	m.log.WithFields(logrus.Fields{"to": email.To, "subject": email.Subject}).Info("Email suppressed (SMTP not configured)")
	return nil
}

// MockMailer records sent mail for tests
type MockMailer struct {
	mu   sync.Mutex
	sent []Email
	Err  error
}

func NewMockMailer() *MockMailer {
	return &MockMailer{}
}

func (m *MockMailer) Send(ctx context.Context, email Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, email)
	return nil
}

// Sent returns a copy of all delivered messages
func (m *MockMailer) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.sent...)
}
