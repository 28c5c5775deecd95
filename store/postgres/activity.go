package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/MrEthical07/accountcore/store"
)

// AppendActivity implements store.ActivityStore.
func (s *Store) AppendActivity(ctx context.Context, item *store.ActivityItem) error {
	if item == nil || item.ID == "" {
		return store.ErrInvalidArgument
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO activity_log (id, user_id, action, status, details, ip, user_agent, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.UserID, string(item.Action), string(item.Status), item.Details, item.IP, item.UserAgent, item.Timestamp)
	return mapErr(err)
}

// QueryActivity implements store.ActivityStore.
func (s *Store) QueryActivity(ctx context.Context, userID string, f store.ActivityFilter) ([]store.ActivityItem, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		where = append(where, "action = ANY("+arg(actions)+")")
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "occurred_at < "+arg(f.Until))
	}
	q := `SELECT id, user_id, action, status, details, ip, user_agent, occurred_at
FROM activity_log
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY occurred_at DESC, seq DESC`
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]store.ActivityItem, 0, 16)
	for rows.Next() {
		var (
			item           store.ActivityItem
			action, status string
		)
		if err := rows.Scan(&item.ID, &item.UserID, &action, &status, &item.Details, &item.IP, &item.UserAgent, &item.Timestamp); err != nil {
			return nil, mapErr(err)
		}
		item.Action = store.Action(action)
		item.Status = store.ActivityStatus(status)
		out = append(out, item)
	}
	return out, mapErr(rows.Err())
}
