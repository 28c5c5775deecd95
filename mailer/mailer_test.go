package mailer

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSender struct {
	msgs []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func tokenFromBody(t *testing.T, body, prefix string) string {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, prefix) {
			u, err := url.Parse(strings.TrimSpace(line))
			require.NoError(t, err)
			return u.Query().Get("token")
		}
	}
	t.Fatalf("no link with prefix %q in %q", prefix, body)
	return ""
}

func TestPasswordResetMessage(t *testing.T) {
	rec := &recordingSender{}
	m, err := New(Config{BaseURL: "https://acct.example", AppName: "Reader", ResetTTL: time.Hour}, rec)
	require.NoError(t, err)

	require.NoError(t, m.SendPasswordReset(context.Background(), "alice@example.com", "alice", "tok+/=1"))
	require.Len(t, rec.msgs, 1)

	msg := rec.msgs[0]
	require.Equal(t, "alice@example.com", msg.To)
	require.Equal(t, "Reader: reset your password", msg.Subject)
	require.Contains(t, msg.Text, "Hi alice,")
	require.Contains(t, msg.Text, "within 1 hour")
	require.Equal(t, "tok+/=1", tokenFromBody(t, msg.Text, "https://acct.example/reset-password?"))
	require.Contains(t, msg.HTML, `href="https://acct.example/reset-password?token=`)
}

func TestVerificationMessageEscapesHTML(t *testing.T) {
	rec := &recordingSender{}
	m, err := New(Config{BaseURL: "https://acct.example", VerifyTTL: 48 * time.Hour}, rec)
	require.NoError(t, err)

	require.NoError(t, m.SendEmailVerification(context.Background(), "bob@example.com", "<b>bob</b>", "v1"))
	msg := rec.msgs[0]
	require.Equal(t, "Account: confirm your email", msg.Subject)
	require.Contains(t, msg.Text, "48 hours")
	require.Equal(t, "v1", tokenFromBody(t, msg.Text, "https://acct.example/verify-email?"))
	require.NotContains(t, msg.HTML, "<b>bob</b>")
	require.Contains(t, msg.HTML, "&lt;b&gt;bob&lt;/b&gt;")
}

func TestMailerErrors(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)

	rec := &recordingSender{err: errors.New("relay down")}
	m, err := New(Config{}, rec)
	require.NoError(t, err)

	require.ErrorIs(t, m.SendPasswordReset(context.Background(), "", "x", "t"), ErrInvalidInput)
	require.ErrorIs(t, m.SendEmailVerification(context.Background(), "a@b.c", "x", ""), ErrInvalidInput)
	require.ErrorIs(t, m.SendPasswordReset(context.Background(), "a@b.c", "x", "t"), ErrSendFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.err = nil
	require.ErrorIs(t, m.SendPasswordReset(ctx, "a@b.c", "x", "t"), ErrSendFailed)
	require.Empty(t, rec.msgs)
}

func TestHumanTTL(t *testing.T) {
	require.Equal(t, "1 hour", humanTTL(time.Hour))
	require.Equal(t, "24 hours", humanTTL(24*time.Hour))
	require.Equal(t, "15 minutes", humanTTL(15*time.Minute))
	require.Equal(t, "90s", humanTTL(90*time.Second))
}

func TestSMTPSenderBuildsMessageAndDialer(t *testing.T) {
	var (
		gotDialer *mail.Dialer
		gotMsg    *mail.Message
	)
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example", From: "noreply@example.com", TLSMode: TLSStartTLS}, nil)
	s.send = func(d *mail.Dialer, m *mail.Message) error {
		gotDialer, gotMsg = d, m
		return nil
	}

	err := s.Send(context.Background(), Message{To: "alice@example.com", Subject: "Hello", Text: "plain", HTML: "<p>rich</p>"})
	require.NoError(t, err)

	require.Equal(t, "smtp.example", gotDialer.Host)
	require.Equal(t, 587, gotDialer.Port)
	require.Equal(t, mail.MandatoryStartTLS, gotDialer.StartTLSPolicy)
	require.False(t, gotDialer.SSL)
	require.Equal(t, 10*time.Second, gotDialer.Timeout)

	var buf bytes.Buffer
	_, err = gotMsg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	require.Contains(t, raw, "From: noreply@example.com")
	require.Contains(t, raw, "To: alice@example.com")
	require.Contains(t, raw, "Subject: Hello")
	require.Contains(t, raw, "multipart/alternative")
}

func TestSMTPSenderTLSModes(t *testing.T) {
	cases := map[string]func(*testing.T, *mail.Dialer){
		TLSSSL:  func(t *testing.T, d *mail.Dialer) { require.True(t, d.SSL) },
		TLSNone: func(t *testing.T, d *mail.Dialer) { require.Equal(t, mail.StartTLSPolicy(mail.NoStartTLS), d.StartTLSPolicy) },
		TLSAuto: func(t *testing.T, d *mail.Dialer) { require.Equal(t, mail.OpportunisticStartTLS, d.StartTLSPolicy) },
	}
	for mode, check := range cases {
		t.Run(mode, func(t *testing.T) {
			s := NewSMTPSender(SMTPConfig{Host: "smtp.example", Port: 465, TLSMode: mode}, nil)
			check(t, s.dialer())
		})
	}
}

func TestSMTPSenderFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example"}, zap.New(core))
	s.send = func(*mail.Dialer, *mail.Message) error { return errors.New("connection refused") }

	err := s.Send(context.Background(), Message{To: "a@b.c", Subject: "x", Text: "y"})
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 1, logs.FilterMessage("smtp send failed").Len())
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLogSender(zap.New(core)).Send(context.Background(), Message{To: "a@b.c", Subject: "s", Text: "link"}))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "link", entries[0].ContextMap()["body"])
}
