// Package mail sends the account lifecycle emails: verification, password
// reset and welcome.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/voicockpit/cockpit/internal/config"
)

// Sender delivers account emails. Callers treat delivery as best effort.
type Sender interface {
	SendVerificationEmail(ctx context.Context, to, name, token string) error
	SendPasswordResetEmail(ctx context.Context, to, name, token string) error
	SendWelcomeEmail(ctx context.Context, to, name string) error
}

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Body    string
}

type templateData struct {
	Name    string
	Email   string
	Link    string
	BaseURL string
}

const (
	tmplVerification = "verification"
	tmplReset        = "reset"
	tmplWelcome      = "welcome"
)

var templates = template.Must(template.New("mail").Funcs(sprig.TxtFuncMap()).Parse(`
{{define "verification.subject"}}Verify your email address{{end}}
{{define "verification.body"}}Hello {{.Name | default "there"}},

Please confirm your email address by opening the link below. The link is valid for 24 hours.

{{.Link}}

If you did not create an account you can ignore this message.
{{end}}

{{define "reset.subject"}}Reset your password{{end}}
{{define "reset.body"}}Hello {{.Name | default "there"}},

A password reset was requested for {{.Email | lower}}. The link below is valid for one hour.

{{.Link}}

If you did not request a reset you can ignore this message.
{{end}}

{{define "welcome.subject"}}Welcome to VOI Cockpit{{end}}
{{define "welcome.body"}}Hello {{.Name | default "there" | title}},

Your account is ready. Sign in at {{.BaseURL | trimSuffix "/"}}/login.
{{end}}
`))

// Renderer builds messages from the built-in templates.
type Renderer struct {
	baseURL string
}

// NewRenderer creates a Renderer producing links under baseURL.
func NewRenderer(baseURL string) *Renderer {
	return &Renderer{baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Verification renders the email-verification message.
func (r *Renderer) Verification(to, name, token string) (Message, error) {
	return r.render(tmplVerification, to, name, r.baseURL+"/verify-email?token="+token)
}

// PasswordReset renders the password-reset message.
func (r *Renderer) PasswordReset(to, name, token string) (Message, error) {
	return r.render(tmplReset, to, name, r.baseURL+"/reset-password?token="+token)
}

// Welcome renders the welcome message.
func (r *Renderer) Welcome(to, name string) (Message, error) {
	return r.render(tmplWelcome, to, name, "")
}

func (r *Renderer) render(kind, to, name, link string) (Message, error) {
	data := templateData{Name: name, Email: to, Link: link, BaseURL: r.baseURL}

	var subject, body bytes.Buffer
	if err := templates.ExecuteTemplate(&subject, kind+".subject", data); err != nil {
		return Message{}, fmt.Errorf("rendering %s subject: %w", kind, err)
	}
	if err := templates.ExecuteTemplate(&body, kind+".body", data); err != nil {
		return Message{}, fmt.Errorf("rendering %s body: %w", kind, err)
	}
	return Message{To: to, Subject: subject.String(), Body: body.String()}, nil
}

// DefaultTimeout bounds one delivery when mail.timeout is unset.
const DefaultTimeout = 10 * time.Second

// sendFunc is smtp.SendMail with a context.
type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	cfg      config.MailConfig
	renderer *Renderer
	send     sendFunc
}

// NewSMTPSender creates a sender for the configured relay.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, renderer: NewRenderer(cfg.BaseURL), send: sendMail}
}

func (s *SMTPSender) SendVerificationEmail(ctx context.Context, to, name, token string) error {
	msg, err := s.renderer.Verification(to, name, token)
	if err != nil {
		return err
	}
	return s.deliver(ctx, msg)
}

func (s *SMTPSender) SendPasswordResetEmail(ctx context.Context, to, name, token string) error {
	msg, err := s.renderer.PasswordReset(to, name, token)
	if err != nil {
		return err
	}
	return s.deliver(ctx, msg)
}

func (s *SMTPSender) SendWelcomeEmail(ctx context.Context, to, name string) error {
	msg, err := s.renderer.Welcome(to, name)
	if err != nil {
		return err
	}
	return s.deliver(ctx, msg)
}

func (s *SMTPSender) deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var a smtp.Auth
	if s.cfg.Username != "" {
		a = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := s.send(ctx, addr, a, s.cfg.From, []string{msg.To}, encode(s.cfg.From, msg)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", msg.To, err)
	}
	slog.Debug("mail sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// sendMail follows smtp.SendMail, but every network step stops at the
// context deadline or on cancellation.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func encode(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender writes messages to the log instead of sending them. Used when no
// SMTP host is configured.
type LogSender struct {
	renderer *Renderer
}

// NewLogSender creates a LogSender producing links under baseURL.
func NewLogSender(baseURL string) *LogSender {
	return &LogSender{renderer: NewRenderer(baseURL)}
}

func (s *LogSender) SendVerificationEmail(_ context.Context, to, name, token string) error {
	return s.log(s.renderer.Verification(to, name, token))
}

func (s *LogSender) SendPasswordResetEmail(_ context.Context, to, name, token string) error {
	return s.log(s.renderer.PasswordReset(to, name, token))
}

func (s *LogSender) SendWelcomeEmail(_ context.Context, to, name string) error {
	return s.log(s.renderer.Welcome(to, name))
}

func (s *LogSender) log(msg Message, err error) error {
	if err != nil {
		return err
	}
	slog.Info("mail (not sent, smtp disabled)", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// New returns an SMTP sender when a host is configured, otherwise a LogSender.
func New(cfg config.MailConfig) Sender {
	if cfg.Host == "" {
		return NewLogSender(cfg.BaseURL)
	}
	return NewSMTPSender(cfg)
}
