package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

const dialTimeout = 10 * time.Second

// Mailer sends plain-text notifications through an internal SMTP relay.
// The relay accepts unauthenticated mail on the local network; STARTTLS
// is attempted but not required.
type Mailer struct {
	host     string
	port     int
	from     string
	fromName string
}

func New(host string, port int, from, fromName string) *Mailer {
	return &Mailer{host: host, port: port, from: from, fromName: fromName}
}

func (m *Mailer) addr() string {
	return net.JoinHostPort(m.host, fmt.Sprintf("%d", m.port))
}

// Send delivers one message. The context bounds the whole SMTP
// exchange through the connection deadline.
func (m *Mailer) Send(ctx context.Context, to, subject, body, replyTo string) error {
	conn, err := net.DialTimeout("tcp", m.addr(), dialTimeout)
	if err != nil {
		return fmt.Errorf("dial smtp relay: %w", err)
	}
	deadline := time.Now().Add(dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	// Internal relay presents a certificate that does not match its
	// MX name, so verification is off. Plaintext is tolerated.
	if ok, _ := c.Extension("STARTTLS"); ok {
		_ = c.StartTLS(&tls.Config{ServerName: m.host, InsecureSkipVerify: true})
	}

	if err := c.Mail(m.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(m.render(to, subject, body, replyTo))); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return c.Quit()
}

func (m *Mailer) render(to, subject, body, replyTo string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %q <%s>\r\n", m.fromName, m.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	if replyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.String()
}

// SupportMailer binds a Mailer to the fixed support recipient so
// callers only supply content.
type SupportMailer struct {
	mailer *Mailer
	to     string
}

func NewSupportMailer(m *Mailer, to string) *SupportMailer {
	return &SupportMailer{mailer: m, to: to}
}

func (s *SupportMailer) Send(ctx context.Context, subject, body, replyTo string) error {
	return s.mailer.Send(ctx, s.to, subject, body, replyTo)
}
