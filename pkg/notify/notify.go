// Package notify renders account emails and delivers them with bounded retry.
package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Template names.
const (
	TemplateActivate        = "activate"
	TemplateWelcome         = "welcome"
	TemplateMagicLink       = "magic-link"
	TemplatePasswordReset   = "password-reset"
	TemplatePasswordChanged = "password-changed"
)

var subjects = map[string]string{
	TemplateActivate:        "Activate your %s account",
	TemplateWelcome:         "Welcome to %s",
	TemplateMagicLink:       "Your %s sign-in link",
	TemplatePasswordReset:   "Reset your %s password",
	TemplatePasswordChanged: "Your %s password was changed",
}

//go:embed templates/*.html
var templateFS embed.FS

// ErrUnknownTemplate is returned for template names without a file.
var ErrUnknownTemplate = errors.New("notify: unknown template")

// Data is the template payload. SiteName is filled in by the mailer.
type Data struct {
	Name      string
	URL       string
	ExpiresIn string
	SiteName  string
}

// Notifier sends a templated message to one recipient.
type Notifier interface {
	Send(ctx context.Context, to, template string, data Data) error
}

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Tag     string
}

// Transport delivers rendered messages.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// MailerConfig configures a Mailer.
type MailerConfig struct {
	SiteName string
	// Attempts is the total number of delivery attempts. Defaults to 3.
	Attempts int
	// Backoff is the first retry delay, doubled on every further attempt.
	Backoff time.Duration
}

// Mailer renders templates and hands them to a transport.
type Mailer struct {
	transport Transport
	templates map[string]*template.Template
	config    MailerConfig
	logger    *slog.Logger
}

var _ Notifier = (*Mailer)(nil)

// NewMailer parses the embedded templates.
func NewMailer(transport Transport, config MailerConfig, logger *slog.Logger) (*Mailer, error) {
	if config.Attempts <= 0 {
		config.Attempts = 3
	}
	if config.Backoff <= 0 {
		config.Backoff = 500 * time.Millisecond
	}

	templates := make(map[string]*template.Template, len(subjects))
	for name := range subjects {
		t, err := template.ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		templates[name] = t
	}

	return &Mailer{transport: transport, templates: templates, config: config, logger: logger}, nil
}

// Render builds the message without sending it.
func (m *Mailer) Render(to, name string, data Data) (Message, error) {
	t, ok := m.templates[name]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	data.SiteName = m.config.SiteName

	var body bytes.Buffer
	if err := t.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf(subjects[name], m.config.SiteName),
		HTML:    body.String(),
		Tag:     name,
	}, nil
}

// Send renders and delivers, retrying transport failures with exponential
// backoff up to the configured number of attempts.
func (m *Mailer) Send(ctx context.Context, to, name string, data Data) error {
	msg, err := m.Render(to, name, data)
	if err != nil {
		return err
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(m.config.Attempts-1), retry.NewExponential(m.config.Backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := m.transport.Deliver(ctx, msg); err != nil {
			m.logger.Warn("mail delivery failed",
				"template", name,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
}
