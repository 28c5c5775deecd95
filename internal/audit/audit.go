package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/store"
)

// Sink receives activity items after they are durably appended.
type Sink interface {
	Emit(ctx context.Context, item store.ActivityItem)
}

// NoOpSink drops items.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, store.ActivityItem) {}

// ChannelSink writes items into a buffered channel.
type ChannelSink struct {
	items chan store.ActivityItem
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		items: make(chan store.ActivityItem, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, item store.ActivityItem) {
	select {
	case s.items <- item:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Items() <-chan store.ActivityItem {
	return s.items
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, item store.ActivityItem) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(item)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(append(data, '\n'))
}

// ZapSink logs items as structured security events.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log.Named("activity")}
}

func (s *ZapSink) Emit(_ context.Context, item store.ActivityItem) {
	fields := []zap.Field{
		zap.String("user_id", item.UserID),
		zap.String("action", string(item.Action)),
		zap.String("status", string(item.Status)),
		zap.Time("ts", item.Timestamp),
	}
	if item.IP != "" {
		fields = append(fields, zap.String("ip", item.IP))
	}
	if item.Details != "" {
		fields = append(fields, zap.String("details", item.Details))
	}

	switch item.Status {
	case store.StatusFailure, store.StatusWarning:
		s.log.Warn("security event", fields...)
	default:
		s.log.Info("security event", fields...)
	}
}

// MultiSink fans an item out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, item store.ActivityItem) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, item)
		}
	}
}
