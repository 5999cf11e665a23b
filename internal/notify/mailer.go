// Package notify renders and delivers listing digests to subscribers and
// records every successful send so repeat cycles stay quiet.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zuevav/pik-tracker/internal/config"
)

// Mailer delivers one rendered message. Implementations must be safe for
// sequential reuse within a cycle.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPMailer sends HTML mail through an SMTP relay. Encryption follows the
// configured mode: "tls" does STARTTLS after connect, "ssl" opens an implicit
// TLS connection, anything else stays plaintext.
type SMTPMailer struct {
	cfg config.EmailConfig
	log *zap.Logger
}

func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	return &SMTPMailer{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "notify.mailer")),
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	addr := net.JoinHostPort(m.cfg.SMTP.Host, strconv.Itoa(m.cfg.SMTP.Port))

	var (
		client *smtp.Client
		err    error
	)
	dialer := &net.Dialer{}

	switch m.cfg.SMTP.Encryption {
	case "ssl":
		conn, dErr := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: m.cfg.SMTP.Host})
		if dErr != nil {
			return eris.Wrapf(dErr, "notify: dial smtps %s", addr)
		}
		client, err = smtp.NewClient(conn, m.cfg.SMTP.Host)
	default:
		conn, dErr := dialer.DialContext(ctx, "tcp", addr)
		if dErr != nil {
			return eris.Wrapf(dErr, "notify: dial smtp %s", addr)
		}
		client, err = smtp.NewClient(conn, m.cfg.SMTP.Host)
	}
	if err != nil {
		return eris.Wrap(err, "notify: smtp handshake")
	}
	defer client.Close() //nolint:errcheck

	if m.cfg.SMTP.Encryption == "tls" {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.SMTP.Host}); err != nil {
			return eris.Wrap(err, "notify: starttls")
		}
	}

	if m.cfg.SMTP.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.SMTP.Username, m.cfg.SMTP.Password, m.cfg.SMTP.Host)
		if err := client.Auth(auth); err != nil {
			return eris.Wrap(err, "notify: smtp auth")
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return eris.Wrap(err, "notify: mail from")
	}
	if err := client.Rcpt(to); err != nil {
		return eris.Wrapf(err, "notify: rcpt %s", to)
	}

	w, err := client.Data()
	if err != nil {
		return eris.Wrap(err, "notify: data")
	}
	if _, err := w.Write([]byte(m.buildMessage(to, subject, htmlBody))); err != nil {
		return eris.Wrap(err, "notify: write body")
	}
	if err := w.Close(); err != nil {
		return eris.Wrap(err, "notify: close body")
	}

	if err := client.Quit(); err != nil {
		m.log.Debug("smtp quit failed", zap.Error(err))
	}
	return nil
}

func (m *SMTPMailer) buildMessage(to, subject, htmlBody string) string {
	from := m.cfg.From
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", m.cfg.FromName), m.cfg.From)
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")
	return b.String()
}

// LogMailer writes messages to the logger instead of sending them. Used by
// dry runs and when email delivery is disabled.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{log: zap.L().With(zap.String("component", "notify.mailer"))}
}

func (m *LogMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.log.Info("email suppressed",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}

var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = (*LogMailer)(nil)
)
