package activity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/accountcore/internal/audit"
	"github.com/MrEthical07/accountcore/store"
	"github.com/MrEthical07/accountcore/store/memory"
)

func TestAppendPersistsThenDispatches(t *testing.T) {
	st := memory.New()
	sink := audit.NewChannelSink(4)
	d := audit.NewDispatcher(audit.Config{Enabled: true, BufferSize: 4}, sink)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(st, d, func() time.Time { return now }, nil)
	ctx := context.Background()

	item, err := l.Append(ctx, Entry{UserID: "u1", Action: store.ActionSignup, IP: "192.0.2.9"})
	require.NoError(t, err)
	require.Equal(t, store.StatusSuccess, item.Status)
	require.Equal(t, now, item.Timestamp)

	d.Close()
	got := <-sink.Items()
	require.Equal(t, item.ID, got.ID)

	items, err := l.Query(ctx, "u1", store.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "192.0.2.9", items[0].IP)
}

func TestAppendValidatesAndTruncates(t *testing.T) {
	l := New(memory.New(), nil, nil, nil)
	ctx := context.Background()

	_, err := l.Append(ctx, Entry{Action: store.ActionSignup})
	require.ErrorIs(t, err, ErrInvalidFilter)

	item, err := l.Append(ctx, Entry{UserID: "u1", Action: store.ActionLogout, Details: strings.Repeat("x", 5000)})
	require.NoError(t, err)
	require.Len(t, item.Details, maxDetailsLen)
}

type failingStore struct{ *memory.Store }

func (failingStore) AppendActivity(context.Context, *store.ActivityItem) error {
	return errors.New("disk full")
}

func TestAppendFailureIsUnavailable(t *testing.T) {
	sink := audit.NewChannelSink(1)
	d := audit.NewDispatcher(audit.Config{Enabled: true, BufferSize: 1}, sink)
	l := New(failingStore{memory.New()}, d, nil, nil)

	_, err := l.Append(context.Background(), Entry{UserID: "u1", Action: store.ActionLogout})
	require.ErrorIs(t, err, ErrUnavailable)

	d.Close()
	require.Empty(t, sink.Items(), "failed appends must not reach sinks")
}

func TestQueryLimitsAndFilters(t *testing.T) {
	st := memory.New()
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	l := New(st, nil, func() time.Time { ts = ts.Add(time.Second); return ts }, nil)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := l.Append(ctx, Entry{UserID: "u1", Action: store.ActionLoginFailed, Status: store.StatusFailure})
		require.NoError(t, err)
	}
	_, err := l.Append(ctx, Entry{UserID: "u1", Action: store.ActionLoginSuccess})
	require.NoError(t, err)

	items, err := l.Query(ctx, "u1", store.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, items, DefaultQueryLimit)
	require.Equal(t, store.ActionLoginSuccess, items[0].Action)

	ok, err := l.Query(ctx, "u1", store.ActivityFilter{Statuses: []store.ActivityStatus{store.StatusSuccess}})
	require.NoError(t, err)
	require.Len(t, ok, 1)

	_, err = l.Query(ctx, "u1", store.ActivityFilter{Since: ts, Until: ts.Add(-time.Hour)})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = l.Query(ctx, "", store.ActivityFilter{})
	require.ErrorIs(t, err, ErrInvalidFilter)
}
