package delivery

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"
)

// Attachment is a file carried by a Message. Inline attachments can be
// referenced from the HTML body as cid:<Name>.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
	Inline      bool
}

// Message is one outgoing email.
type Message struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host        string
	Port        int
	User        string
	Pass        string
	FromAddress string
	FromName    string
	PoolSize    int
	Timeout     time.Duration
}

// SMTPMailer sends through a pooled SMTP connection.
type SMTPMailer struct {
	pool    *email.Pool
	from    string
	timeout time.Duration
}

// NewSMTPMailer dials nothing up front; connections are opened on first send.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}
	pool, err := email.NewPool(cfg.Host+":"+strconv.Itoa(cfg.Port), cfg.PoolSize, auth)
	if err != nil {
		return nil, fmt.Errorf("smtp pool: %w", err)
	}
	from := (&mail.Address{Name: cfg.FromName, Address: cfg.FromAddress}).String()
	return &SMTPMailer{pool: pool, from: from, timeout: cfg.Timeout}, nil
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	e, err := buildEmail(m.from, msg)
	if err != nil {
		return err
	}
	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	if err := m.pool.Send(e, timeout); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// Close releases pooled connections.
func (m *SMTPMailer) Close() {
	m.pool.Close()
}

func buildEmail(from string, msg Message) (*email.Email, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("message has no recipient")
	}
	e := email.NewEmail()
	e.From = from
	e.To = []string{(&mail.Address{Name: msg.ToName, Address: msg.To}).String()}
	e.Subject = msg.Subject
	e.HTML = []byte(msg.HTML)
	e.Text = []byte(msg.Text)
	for _, a := range msg.Attachments {
		att, err := e.Attach(bytes.NewReader(a.Data), a.Name, a.ContentType)
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
		att.HTMLRelated = a.Inline
	}
	return e, nil
}

// LogMailer logs messages instead of sending them. Used when no SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email (not sent, smtp disabled)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}
