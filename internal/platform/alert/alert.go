package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"paycore/internal/platform/config"
)

// Alerter notifies operators about runs that need attention.
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

// LogAlerter writes alerts to the structured log only.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, subject, body string) error {
	slog.Warn("operator alert", "subject", subject, "body", body)
	return nil
}

type smtpAlerter struct {
	cfg config.Config
}

// New returns an SMTP alerter when ALERT_EMAIL_TO and SMTP_HOST are set and
// a log-only alerter otherwise.
func New(cfg config.Config) Alerter {
	if strings.TrimSpace(cfg.AlertEmailTo) == "" || cfg.SMTPHost == "" {
		return LogAlerter{}
	}
	return &smtpAlerter{cfg: cfg}
}

func (s *smtpAlerter) Alert(ctx context.Context, subject, body string) error {
	slog.Warn("operator alert", "subject", subject, "to", s.cfg.AlertEmailTo)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	msg := buildMessage(s.cfg.EmailFrom, s.cfg.AlertEmailTo, "[payroll] "+subject, body)

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.cfg.SMTPUseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.SMTPHost}); err != nil {
			return err
		}
	}
	if s.cfg.SMTPUser != "" {
		auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPassword, s.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(s.cfg.EmailFrom); err != nil {
		return err
	}
	if err := client.Rcpt(s.cfg.AlertEmailTo); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMessage(from, to, subject, body string) []byte {
	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n" + body)
}
