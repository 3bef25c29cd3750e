package services

import (
	"fmt"
	"net/smtp"
)

// Mailer is the notification transport. Send reports delivery failure to
// the caller; it is never retried within the same sweep cycle.
type Mailer interface {
	Send(subject, body, from, to string) error
}

// SMTPMailer delivers notifications over SMTP
type SMTPMailer struct {
	host     string
	port     string
	username string
	password string
}

// NewSMTPMailer creates an SMTP notification transport
func NewSMTPMailer(host, port, username, password string) *SMTPMailer {
	return &SMTPMailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
	}
}

// Send delivers a single message
func (m *SMTPMailer) Send(subject, body, from, to string) error {
	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		from, to, subject, body,
	))

	addr := m.host + ":" + m.port
	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	if err := smtp.SendMail(addr, auth, from, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}
