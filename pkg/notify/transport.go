package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/mrz1836/postmark"
)

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// SMTPTransport delivers through an SMTP relay.
type SMTPTransport struct {
	config SMTPConfig
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(config SMTPConfig) *SMTPTransport {
	return &SMTPTransport{config: config}
}

func (t *SMTPTransport) Deliver(_ context.Context, msg Message) error {
	from := t.config.From
	if t.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", t.config.FromName, t.config.From)
	}

	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, msg.To, msg.Subject, msg.HTML)

	var auth smtp.Auth
	if t.config.User != "" {
		auth = smtp.PlainAuth("", t.config.User, t.config.Password, t.config.Host)
	}
	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	return smtp.SendMail(addr, auth, t.config.From, []string{msg.To}, []byte(raw))
}

// PostmarkConfig holds Postmark API settings.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string
}

// PostmarkTransport delivers through the Postmark transactional API.
type PostmarkTransport struct {
	client *postmark.Client
	config PostmarkConfig
}

// NewPostmarkTransport creates a Postmark transport.
func NewPostmarkTransport(config PostmarkConfig) (*PostmarkTransport, error) {
	if config.ServerToken == "" {
		return nil, errors.New("notify: postmark server token is required")
	}
	if config.From == "" {
		return nil, errors.New("notify: sender address is required")
	}
	return &PostmarkTransport{
		client: postmark.NewClient(config.ServerToken, config.AccountToken),
		config: config,
	}, nil
}

func (t *PostmarkTransport) Deliver(ctx context.Context, msg Message) error {
	resp, err := t.client.SendEmail(ctx, postmark.Email{
		From:     t.config.From,
		ReplyTo:  t.config.ReplyTo,
		To:       msg.To,
		Subject:  msg.Subject,
		Tag:      msg.Tag,
		HTMLBody: msg.HTML,
	})
	if err != nil {
		return err
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}

// LogTransport only logs messages. Used in development.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a log-only transport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Deliver(_ context.Context, msg Message) error {
	t.logger.Info("email", "to", msg.To, "subject", msg.Subject, "tag", msg.Tag)
	t.logger.Debug("email body", "html", msg.HTML)
	return nil
}
