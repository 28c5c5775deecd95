// Package mailer renders and delivers account emails. Mailer implements
// accountcore.Mailer on top of a Sender.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htemplate "html/template"
	"net/url"
	ttemplate "text/template"
	"time"

	"github.com/MrEthical07/accountcore"
)

var (
	// ErrInvalidInput is returned when recipient or token are empty.
	ErrInvalidInput = errors.New("mailer: invalid input")
	// ErrTemplateRender wraps template execution failures.
	ErrTemplateRender = errors.New("mailer: template render failed")
	// ErrSendFailed wraps transport failures.
	ErrSendFailed = errors.New("mailer: send failed")
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config controls link building and copy.
type Config struct {
	// BaseURL prefixes action links, e.g. https://accounts.example.com.
	BaseURL string
	// ResetPath and VerifyPath are appended to BaseURL. The token is passed
	// as the "token" query parameter.
	ResetPath  string
	VerifyPath string
	ResetTTL   time.Duration
	VerifyTTL  time.Duration
	AppName    string
}

type vars struct {
	AppName  string
	Username string
	Link     string
	TTL      string
}

// Mailer implements accountcore.Mailer.
type Mailer struct {
	cfg    Config
	sender Sender

	resetText  *ttemplate.Template
	resetHTML  *htemplate.Template
	verifyText *ttemplate.Template
	verifyHTML *htemplate.Template
}

var _ accountcore.Mailer = (*Mailer)(nil)

// New returns a Mailer using the built-in templates.
func New(cfg Config, sender Sender) (*Mailer, error) {
	if sender == nil {
		return nil, errors.New("mailer: sender is required")
	}
	if cfg.ResetPath == "" {
		cfg.ResetPath = "/reset-password"
	}
	if cfg.VerifyPath == "" {
		cfg.VerifyPath = "/verify-email"
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = time.Hour
	}
	if cfg.VerifyTTL == 0 {
		cfg.VerifyTTL = 24 * time.Hour
	}
	if cfg.AppName == "" {
		cfg.AppName = "Account"
	}

	m := &Mailer{cfg: cfg, sender: sender}
	var err error
	if m.resetText, err = ttemplate.New("reset_text").Parse(resetTextTmpl); err != nil {
		return nil, fmt.Errorf("parse reset text template: %w", err)
	}
	if m.resetHTML, err = htemplate.New("reset_html").Parse(resetHTMLTmpl); err != nil {
		return nil, fmt.Errorf("parse reset html template: %w", err)
	}
	if m.verifyText, err = ttemplate.New("verify_text").Parse(verifyTextTmpl); err != nil {
		return nil, fmt.Errorf("parse verify text template: %w", err)
	}
	if m.verifyHTML, err = htemplate.New("verify_html").Parse(verifyHTMLTmpl); err != nil {
		return nil, fmt.Errorf("parse verify html template: %w", err)
	}
	return m, nil
}

// SendPasswordReset implements accountcore.Mailer.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, username, token string) error {
	if to == "" || token == "" {
		return ErrInvalidInput
	}
	v := vars{
		AppName:  m.cfg.AppName,
		Username: username,
		Link:     m.link(m.cfg.ResetPath, token),
		TTL:      humanTTL(m.cfg.ResetTTL),
	}
	msg, err := render(to, m.cfg.AppName+": reset your password", m.resetText, m.resetHTML, v)
	if err != nil {
		return err
	}
	return m.send(ctx, msg)
}

// SendEmailVerification implements accountcore.Mailer.
func (m *Mailer) SendEmailVerification(ctx context.Context, to, username, token string) error {
	if to == "" || token == "" {
		return ErrInvalidInput
	}
	v := vars{
		AppName:  m.cfg.AppName,
		Username: username,
		Link:     m.link(m.cfg.VerifyPath, token),
		TTL:      humanTTL(m.cfg.VerifyTTL),
	}
	msg, err := render(to, m.cfg.AppName+": confirm your email", m.verifyText, m.verifyHTML, v)
	if err != nil {
		return err
	}
	return m.send(ctx, msg)
}

func (m *Mailer) send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (m *Mailer) link(path, token string) string {
	return m.cfg.BaseURL + path + "?" + url.Values{"token": {token}}.Encode()
}

func render(to, subject string, text *ttemplate.Template, html *htemplate.Template, v vars) (Message, error) {
	var tb, hb bytes.Buffer
	if err := text.Execute(&tb, v); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	if err := html.Execute(&hb, v); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return Message{To: to, Subject: subject, Text: tb.String(), HTML: hb.String()}, nil
}

func humanTTL(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}

const resetTextTmpl = `Hi {{.Username}},

Someone asked to reset the password for your {{.AppName}} account.
Open this link within {{.TTL}} to choose a new password:

{{.Link}}

If you did not ask for this, ignore this email. Your password stays the same.
`

const resetHTMLTmpl = `<p>Hi {{.Username}},</p>
<p>Someone asked to reset the password for your {{.AppName}} account.
Open this link within {{.TTL}} to choose a new password:</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>If you did not ask for this, ignore this email. Your password stays the same.</p>
`

const verifyTextTmpl = `Hi {{.Username}},

Confirm the email address for your {{.AppName}} account within {{.TTL}}:

{{.Link}}
`

const verifyHTMLTmpl = `<p>Hi {{.Username}},</p>
<p>Confirm the email address for your {{.AppName}} account within {{.TTL}}:</p>
<p><a href="{{.Link}}">Confirm email</a></p>
`
