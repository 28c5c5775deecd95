package accountcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/accountcore/internal/activity"
	"github.com/MrEthical07/accountcore/internal/tokens"
	"github.com/MrEthical07/accountcore/store"
)

// record appends an activity item for userID. Success paths must not report
// success when it fails; failure paths ignore its error because the append
// failure is already logged and counted.
func (e *Engine) record(ctx context.Context, userID string, action store.Action, status store.ActivityStatus, details string) error {
	meta := requestMeta(ctx)
	_, err := e.activity.Append(ctx, activity.Entry{
		UserID:    userID,
		Action:    action,
		Status:    status,
		Details:   details,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		e.metricInc(MetricActivityAppendFailure)
		return unavailable(err)
	}
	return nil
}

func (e *Engine) recordSuccess(ctx context.Context, userID string, action store.Action, details string) error {
	return e.record(ctx, userID, action, store.StatusSuccess, details)
}

func (e *Engine) recordFailure(ctx context.Context, userID string, action store.Action, details string) {
	_ = e.record(ctx, userID, action, store.StatusFailure, details)
}

func (e *Engine) recordWarning(ctx context.Context, userID string, action store.Action, details string) {
	_ = e.record(ctx, userID, action, store.StatusWarning, details)
}

// recordTokenRejection logs a failed use of a token that was issued to a
// known user. Hashes that match no token have no owner and are not logged.
func (e *Engine) recordTokenRejection(ctx context.Context, action store.Action, err error, fallbackOwner string) {
	owner := tokens.Owner(err)
	if owner == "" {
		owner = fallbackOwner
	}
	if owner == "" || errors.Is(err, tokens.ErrUnavailable) {
		return
	}
	details := "token rejected"
	switch {
	case errors.Is(err, tokens.ErrExpired):
		details = "token expired"
	case errors.Is(err, tokens.ErrAlreadyUsed):
		details = "token used"
	case tokens.Owner(err) != "":
		details = "token superseded"
	}
	e.recordFailure(ctx, owner, action, details)
}

// GetActivityLog returns the user's security activity, newest first. A zero
// filter returns the latest 50 items.
func (e *Engine) GetActivityLog(ctx context.Context, userID string, filter store.ActivityFilter) ([]store.ActivityItem, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	items, err := e.activity.Query(ctx, userID, filter)
	switch {
	case err == nil:
		return items, nil
	case errors.Is(err, activity.ErrInvalidFilter):
		return nil, ErrInvalidInput
	default:
		return nil, unavailable(err)
	}
}
