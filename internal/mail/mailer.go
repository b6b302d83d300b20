// Package mail implements outbound delivery email: a minimal SMTP transport
// and a Notifier that composes the purchase delivery message (links, optional
// file attachment, download URL).
//
// Mail is a best-effort side channel. Callers treat a send failure as
// retryable and an unconfigured transport as "skip"; an order is never
// failed because its email could not go out.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"github.com/resellplug/storefront-backend/internal/config"
)

// Message is a fully composed email ready for transport.
type Message struct {
	From        string
	To          string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Attachment is a file included with the message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Mailer sends a composed message. Implementations must be safe for
// concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer delivers messages over SMTP with AUTH PLAIN. Secure selects
// implicit TLS (typically port 465); otherwise the connection is upgraded
// with STARTTLS.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

// NewSMTPMailer builds a transport from the given settings.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send dials the configured server and delivers msg. The context bounds the
// dial; SMTP conversation timeouts ride on the connection deadline.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	var (
		conn net.Conn
		err  error
	)
	dialer := &net.Dialer{}
	if m.cfg.Secure {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: m.cfg.Host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("mail: dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mail: smtp handshake: %w", err)
	}
	defer client.Close()

	if !m.cfg.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
				return fmt.Errorf("mail: starttls: %w", err)
			}
		}
	}

	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("mail: auth: %w", err)
		}
	}

	from := addressOf(msg.From)
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail: MAIL FROM: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("mail: RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("mail: DATA: %w", err)
	}
	raw, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("mail: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mail: finish body: %w", err)
	}
	return client.Quit()
}

// addressOf extracts the bare address from a "Name <addr>" header value.
func addressOf(from string) string {
	for i := 0; i < len(from); i++ {
		if from[i] == '<' {
			for j := i + 1; j < len(from); j++ {
				if from[j] == '>' {
					return from[i+1 : j]
				}
			}
		}
	}
	return from
}
