package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// TLS modes accepted by SMTPConfig.TLSMode.
const (
	TLSAuto     = "auto"
	TLSStartTLS = "starttls"
	TLSSSL      = "ssl"
	TLSNone     = "none"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	TLSMode            string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	cfg  SMTPConfig
	log  *zap.Logger
	send func(*mail.Dialer, *mail.Message) error
}

// NewSMTPSender returns an SMTP sender. A nil logger disables logging.
func NewSMTPSender(cfg SMTPConfig, log *zap.Logger) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSAuto
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPSender{
		cfg:  cfg,
		log:  log,
		send: func(d *mail.Dialer, m *mail.Message) error { return d.DialAndSend(m) },
	}
}

func (s *SMTPSender) message(msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	// multipart/alternative when both bodies exist
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
	}
	if msg.HTML != "" {
		if msg.Text == "" {
			m.SetBody("text/html", msg.HTML)
		} else {
			m.AddAlternative("text/html", msg.HTML)
		}
	}
	return m
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.Timeout = s.cfg.Timeout
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}
	switch s.cfg.TLSMode {
	case TLSSSL:
		d.SSL = true
	case TLSStartTLS:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case TLSNone:
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		d.StartTLSPolicy = mail.OpportunisticStartTLS
	}
	return d
}

// Send implements Sender. go-mail has no context support; a cancelled ctx
// is checked before dialing and the dialer timeout bounds the rest.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Debug("smtp send",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("tls_mode", s.cfg.TLSMode),
		zap.String("subject", msg.Subject),
	)
	if err := s.send(s.dialer(), s.message(msg)); err != nil {
		s.log.Warn("smtp send failed", zap.String("host", s.cfg.Host), zap.Error(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
