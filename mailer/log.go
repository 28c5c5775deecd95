package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to a logger instead of delivering them. It is
// meant for development, where the link in the text body is all that
// matters.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a LogSender.
func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("mail (not delivered)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}
