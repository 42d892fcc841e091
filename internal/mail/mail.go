// Package mail delivers the registration code to citizens.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/smartauth/internal/auth"
	"github.com/nerrad567/smartauth/internal/infrastructure/config"
)

const defaultDialTimeout = 10 * time.Second

// ErrSendFailed wraps every delivery failure. It is an upstream failure.
var ErrSendFailed = fmt.Errorf("mail delivery failed: %w", auth.ErrUpstream)

// ErrInvalidMessage marks a message that cannot be sent as built.
var ErrInvalidMessage = errors.New("invalid mail message")

// Message is a plain-text mail.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Validate checks the addresses and that a subject and body are present.
func (m Message) Validate() error {
	if _, err := mail.ParseAddress(m.From); err != nil {
		return fmt.Errorf("%w: from %q: %w", ErrInvalidMessage, m.From, err)
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: to %q: %w", ErrInvalidMessage, m.To, err)
	}
	if strings.TrimSpace(m.Subject) == "" || strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: subject and body are required", ErrInvalidMessage)
	}
	return nil
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// RegistrationMessage builds the registration code mail for a citizen.
func RegistrationMessage(cfg config.MailConfig, name, to, code string) Message {
	return Message{
		From:    cfg.From,
		To:      to,
		Subject: cfg.Subject,
		Body: fmt.Sprintf(
			"Hallo %s! Ihr persönlicher Registrierungscode lautet: %s. Registrieren Sie sich unter: %s",
			name, code, cfg.RegisterURL,
		),
	}
}

// SMTPSender sends mail through an SMTP relay.
//
// STARTTLS is used when the server offers it. PLAIN auth is used when a
// username is configured.
type SMTPSender struct {
	cfg  config.MailConfig
	addr string
	now  func() time.Time
}

// NewSMTPSender creates an SMTPSender for the configured relay.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		now:  time.Now,
	}
}

// Send delivers msg. The dial and the whole conversation are bounded by ctx.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := s.render(msg)
	if err != nil {
		return fmt.Errorf("%w: rendering: %w", ErrSendFailed, err)
	}

	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrSendFailed, s.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline) //nolint:errcheck // best effort
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: greeting: %w", ErrSendFailed, err)
	}
	defer client.Close()

	if err := s.converse(client, msg, data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

func (s *SMTPSender) converse(client *smtp.Client, msg Message, data []byte) error {
	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		plain := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(plain); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	from, _ := mail.ParseAddress(msg.From)
	to, _ := mail.ParseAddress(msg.To)
	if err := client.Mail(from.Address); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to.Address); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing body: %w", err)
	}
	return client.Quit()
}

// render produces RFC 5322 headers and a quoted-printable UTF-8 body.
func (s *SMTPSender) render(msg Message) ([]byte, error) {
	var buf bytes.Buffer

	domain := "smartauth.local"
	if from, err := mail.ParseAddress(msg.From); err == nil {
		if at := strings.LastIndexByte(from.Address, '@'); at >= 0 {
			domain = from.Address[at+1:]
		}
	}

	headers := [][2]string{
		{"From", msg.From},
		{"To", msg.To},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", s.now().Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/plain; charset="utf-8"`},
		{"Content-Transfer-Encoding", "quoted-printable"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.Body)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}
