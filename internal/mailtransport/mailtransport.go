// Package mailtransport sends the Task-run job's email tasks. It
// generalizes the teacher's email.ConnectSMTPWithContext — a
// context-aware, STARTTLS-upgrading net/smtp dial/auth sequence — into
// a single-message send, since the engine drains one email task at a
// time rather than batching a mailing-list blast the way the teacher's
// dispatcher/pool machinery does.
package mailtransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/retrack-dev/engine/internal/engineconfig"
	"github.com/retrack-dev/engine/internal/retrackerr"
)

// Transport is the capability interface the Task-run job depends on
// (§9: "capability interfaces injected into the Fetch Pipeline and
// Action Dispatcher; the core never depends on concrete transport
// implementations" — the same polymorphism extends to the Task-run
// job's own side-effect execution).
type Transport interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// SMTPTransport sends mail over a freshly dialed SMTP connection per
// call, matching the teacher's ConnectSMTPWithContext connect-per-use
// pattern rather than its pooled-connection variant.
type SMTPTransport struct {
	cfg engineconfig.SMTPConfig
}

// New builds an SMTPTransport from engine configuration.
func New(cfg engineconfig.SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg}
}

// Send dials, authenticates, and transmits one message to recipients.
func (t *SMTPTransport) Send(ctx context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return retrackerr.New(retrackerr.KindValidation, "email task has no recipients")
	}

	client, err := t.connect(ctx)
	if err != nil {
		return retrackerr.Wrap(retrackerr.KindTransient, err, "connect to SMTP server")
	}
	defer client.Close()

	if err := client.Mail(t.cfg.From); err != nil {
		return retrackerr.Wrap(retrackerr.KindTransient, err, "SMTP MAIL FROM")
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return retrackerr.Wrapf(retrackerr.KindTransient, err, "SMTP RCPT TO %s", rcpt)
		}
	}

	w, err := client.Data()
	if err != nil {
		return retrackerr.Wrap(retrackerr.KindTransient, err, "SMTP DATA")
	}
	message := buildMessage(t.cfg.From, recipients, subject, body)
	if _, err := w.Write([]byte(message)); err != nil {
		return retrackerr.Wrap(retrackerr.KindTransient, err, "write SMTP message body")
	}
	if err := w.Close(); err != nil {
		return retrackerr.Wrap(retrackerr.KindTransient, err, "close SMTP DATA writer")
	}
	return client.Quit()
}

func (t *SMTPTransport) connect(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SMTP dial error: %w", err)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP client init error: %w", err)
	}

	if ctx.Err() != nil {
		client.Close()
		return nil, ctx.Err()
	}

	if t.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName:         t.cfg.Host,
				InsecureSkipVerify: t.cfg.InsecureSkipVerify,
				MinVersion:         tls.VersionTLS12,
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("STARTTLS error: %w", err)
			}
		}
	}

	if ctx.Err() != nil {
		client.Close()
		return nil, ctx.Err()
	}

	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP auth error: %w", err)
		}
	}

	return client, nil
}

func buildMessage(from string, recipients []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}
