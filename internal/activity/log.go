// Package activity records and queries the per-user security activity log.
//
// Append writes synchronously to the activity store so an operation that
// reports success has its entry persisted. Sinks attached through the audit
// dispatcher receive a copy afterwards.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal/audit"
	"github.com/MrEthical07/accountcore/store"
)

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
	maxDetailsLen     = 1024
)

var (
	ErrInvalidFilter = errors.New("invalid activity filter")
	ErrUnavailable   = errors.New("activity backend unavailable")
)

// Entry is the caller-supplied part of an activity item.
type Entry struct {
	UserID    string
	Action    store.Action
	Status    store.ActivityStatus
	Details   string
	IP        string
	UserAgent string
}

// Log is the security activity log.
type Log struct {
	store      store.ActivityStore
	dispatcher *audit.Dispatcher
	now        func() time.Time
	log        *zap.Logger
}

// New creates a Log. dispatcher, now and log may be nil.
func New(s store.ActivityStore, dispatcher *audit.Dispatcher, now func() time.Time, log *zap.Logger) *Log {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{store: s, dispatcher: dispatcher, now: now, log: log.Named("activity")}
}

// Append persists e and forwards it to the sinks.
func (l *Log) Append(ctx context.Context, e Entry) (store.ActivityItem, error) {
	if e.UserID == "" || e.Action == "" {
		return store.ActivityItem{}, fmt.Errorf("%w: user and action required", ErrInvalidFilter)
	}
	if e.Status == "" {
		e.Status = store.StatusSuccess
	}
	if len(e.Details) > maxDetailsLen {
		e.Details = e.Details[:maxDetailsLen]
	}

	item := store.ActivityItem{
		ID:        uuid.NewString(),
		UserID:    e.UserID,
		Action:    e.Action,
		Status:    e.Status,
		Details:   e.Details,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		Timestamp: l.now().UTC(),
	}
	if err := l.store.AppendActivity(ctx, &item); err != nil {
		l.log.Error("activity append failed",
			zap.String("user_id", e.UserID),
			zap.String("action", string(e.Action)),
			zap.Error(err),
		)
		return store.ActivityItem{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	l.dispatcher.Emit(ctx, item)
	return item, nil
}

// Query returns the user's items, newest first.
func (l *Log) Query(ctx context.Context, userID string, f store.ActivityFilter) ([]store.ActivityItem, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user required", ErrInvalidFilter)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return nil, fmt.Errorf("%w: since must be before until", ErrInvalidFilter)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		f.Limit = MaxQueryLimit
	}

	items, err := l.store.QueryActivity(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return items, nil
}
