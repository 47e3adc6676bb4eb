// Package email delivers transactional mail on a best-effort basis.
// Send failures are for logging only; no primary flow (payments
// included) may block on mail delivery.
package email

import (
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
)

// Sender delivers a templated message to one recipient.
type Sender interface {
	Send(template, recipient string, data map[string]string) error
}

// SMTPSender sends mail through a plain-auth SMTP relay.
type SMTPSender struct {
	server   string
	user     string
	password string
	from     string
}

// NewSMTPSender creates an SMTP-backed sender. server is host:port.
func NewSMTPSender(server, user, password, from string) *SMTPSender {
	return &SMTPSender{server: server, user: user, password: password, from: from}
}

// Send renders the named template and delivers it. Supported templates:
// "payment-receipt", "password-reset".
func (s *SMTPSender) Send(template, recipient string, data map[string]string) error {
	if s.server == "" {
		return fmt.Errorf("smtp not configured")
	}

	subject, body := render(template, data)

	host, _, err := net.SplitHostPort(s.server)
	if err != nil {
		return fmt.Errorf("invalid smtp server %q: %w", s.server, err)
	}

	msg := []byte("From: " + s.from + "\r\n" +
		"To: " + recipient + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" + body + "\r\n")

	auth := smtp.PlainAuth("", s.user, s.password, host)
	if err := smtp.SendMail(s.server, auth, s.from, []string{recipient}, msg); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	log.Printf("[MAIL] Sent %s mail to %s", template, recipient)
	return nil
}

func render(template string, data map[string]string) (subject, body string) {
	switch template {
	case "payment-receipt":
		subject = "Your payment receipt"
		var b strings.Builder
		b.WriteString("Thanks for your purchase.\n\n")
		if v := data["amount"]; v != "" {
			fmt.Fprintf(&b, "Amount: %s %s\n", v, strings.ToUpper(data["currency"]))
		}
		if v := data["purpose"]; v != "" {
			fmt.Fprintf(&b, "Purchase: %s\n", v)
		}
		body = b.String()
	case "password-reset":
		subject = "Reset your password"
		body = "Use the following token to reset your password (valid for one hour):\n\n" +
			data["token"] + "\n"
	default:
		subject = "Notification"
		body = data["body"]
	}
	return subject, body
}

// NoopSender drops all mail. Used when SMTP is not configured.
type NoopSender struct{}

// Send logs and discards the message.
func (NoopSender) Send(template, recipient string, data map[string]string) error {
	log.Printf("[MAIL] SMTP not configured, dropping %s mail for %s", template, recipient)
	return nil
}
