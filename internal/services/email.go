package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"fleetpilot-backend/internal/models"
)

// EmailSender delivers notifications through the tenant's SMTP server.
type EmailSender struct {
	timeout time.Duration
}

func NewEmailSender() *EmailSender {
	return &EmailSender{timeout: 30 * time.Second}
}

func (s *EmailSender) Send(ctx context.Context, core *models.CoreSettings, n models.Notification) error {
	if core.SMTPHost == "" {
		return errors.New("smtp host is not configured")
	}
	if len(n.To) == 0 {
		return errors.New("no recipients")
	}
	from := n.From
	if from == "" {
		from = core.SMTPFromEmail
	}
	if from == "" {
		return errors.New("no sender address")
	}

	port := core.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(core.SMTPHost, fmt.Sprint(port))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	security := strings.ToUpper(core.SMTPSecurity)
	var conn net.Conn
	var err error
	dialer := &net.Dialer{}
	switch security {
	case "SSL", "TLS":
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: core.SMTPHost}}).DialContext(ctx, "tcp", addr)
	case "STARTTLS", "NONE", "":
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	default:
		return fmt.Errorf("unsupported smtp security %q", core.SMTPSecurity)
	}
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, core.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if security == "STARTTLS" {
		if err := c.StartTLS(&tls.Config{ServerName: core.SMTPHost}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if core.SMTPPassword != "" {
		user := core.SMTPUser
		if user == "" {
			user = from
		}
		if err := c.Auth(smtp.PlainAuth("", user, core.SMTPPassword, core.SMTPHost)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp sender: %w", err)
	}
	for _, rcpt := range n.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp recipient %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMessage(from, n)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}

func buildMessage(from string, n models.Notification) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(n.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", sanitizeHeader(n.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(n.Body, "\n", "\r\n"))
	return msg.Bytes()
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
