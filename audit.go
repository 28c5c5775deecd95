package accountcore

import (
	"io"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal/audit"
)

// AuditSink receives a copy of every persisted activity item. Delivery is
// asynchronous and best effort; the activity store remains the record.
type AuditSink = audit.Sink

// NoOpSink discards every item.
type NoOpSink = audit.NoOpSink

// ChannelSink forwards items to a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// ZapSink logs items through a zap logger.
type ZapSink = audit.ZapSink

// MultiSink fans items out to several sinks.
type MultiSink = audit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return audit.NewZapSink(log)
}
