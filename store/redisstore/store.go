// Package redisstore keeps sessions and single-use tokens in Redis.
//
// Records are stored in a compact binary encoding. Every read-modify-write
// runs as an optimistic transaction (WATCH + MULTI) and is retried when a
// concurrent writer touches the watched keys, so token consumption is a
// compare-and-set: exactly one caller observes success.
//
// Key TTLs are derived from the record's own timestamps (expiry minus
// creation, plus Options.Grace) so used tokens stay visible long enough to
// report ErrTokenUsed. Secondary index sets may briefly reference expired
// keys; readers skip and prune them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/accountcore/store"
)

const maxTxRetries = 16

// Options configures key naming and retention.
type Options struct {
	// Prefix namespaces every key. Default "ac".
	Prefix string
	// Grace keeps records past their expiry before Redis evicts them.
	// Default 24h.
	Grace time.Duration
}

// Store implements store.SessionStore and store.TokenStore.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	grace  time.Duration
}

var (
	_ store.SessionStore = (*Store)(nil)
	_ store.TokenStore   = (*Store)(nil)
)

// New returns a Store backed by rdb.
func New(rdb redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "ac"
	}
	if opts.Grace <= 0 {
		opts.Grace = 24 * time.Hour
	}
	return &Store{rdb: rdb, prefix: opts.Prefix, grace: opts.Grace}
}

func (s *Store) tokenKey(kind store.TokenKind, hash string) string {
	return s.prefix + ":tok:" + string(kind) + ":" + hash
}

func (s *Store) tokenIndexKey(kind store.TokenKind, userID string) string {
	return s.prefix + ":tokidx:" + string(kind) + ":" + userID
}

func (s *Store) tokenExpiryKey() string {
	return s.prefix + ":tokexp"
}

func (s *Store) sessionKey(id string) string {
	return s.prefix + ":sess:" + id
}

func (s *Store) sessionHashKey(hash string) string {
	return s.prefix + ":sesshash:" + hash
}

func (s *Store) userSessionsKey(userID string) string {
	return s.prefix + ":usess:" + userID
}

func (s *Store) sessionExpiryKey() string {
	return s.prefix + ":sessexp"
}

func tokenMember(kind store.TokenKind, hash string) string {
	return string(kind) + "|" + hash
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// ttl is measured from the caller's clock, not Redis time.
func (s *Store) ttl(from, until time.Time) time.Duration {
	d := until.Sub(from) + s.grace
	if d < s.grace {
		return s.grace
	}
	return d
}

func isStoreErr(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrTokenUsed) ||
		errors.Is(err, store.ErrTokenExpired) ||
		errors.Is(err, store.ErrInvalidArgument) ||
		errors.Is(err, store.ErrUnavailable) ||
		errors.Is(err, errCorrupt)
}

func mapErr(err error) error {
	if err == nil || isStoreErr(err) {
		return err
	}
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// watch runs fn as an optimistic transaction over keys, retrying on
// conflicting writes.
func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return mapErr(err)
	}
	return fmt.Errorf("%w: transaction retries exhausted", store.ErrUnavailable)
}

func readToken(ctx context.Context, c redis.Cmdable, key string) (*store.Token, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeToken(data)
}

func readSession(ctx context.Context, c redis.Cmdable, key string) (*store.Session, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeSession(data)
}

/*
====================================
TOKENS
====================================
*/

// SaveToken implements store.TokenStore.
func (s *Store) SaveToken(ctx context.Context, t *store.Token) error {
	if t == nil || t.Hash == "" || !t.Kind.Valid() {
		return store.ErrInvalidArgument
	}
	data, err := encodeToken(t)
	if err != nil {
		return err
	}
	key := s.tokenKey(t.Kind, t.Hash)
	idx := s.tokenIndexKey(t.Kind, t.UserID)
	ttl := s.ttl(t.CreatedAt, t.ExpiresAt)

	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrConflict
		}

		updates, stale, err := s.supersedeLocked(ctx, tx, t.Kind, idx, func(*store.Token) bool { return true })
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, v := range updates {
				pipe.Set(ctx, k, v, redis.KeepTTL)
			}
			if len(stale) > 0 {
				pipe.SRem(ctx, idx, stale...)
			}
			pipe.Set(ctx, key, data, ttl)
			pipe.SAdd(ctx, idx, t.Hash)
			pipe.Expire(ctx, idx, ttl)
			pipe.ZAdd(ctx, s.tokenExpiryKey(), redis.Z{Score: score(t.ExpiresAt), Member: tokenMember(t.Kind, t.Hash)})
			return nil
		})
		return err
	}, key, idx)
}

// supersedeLocked watches every token in idx and returns the encoded
// superseded versions of the unused ones accepted by match, plus index
// members whose records are gone.
func (s *Store) supersedeLocked(
	ctx context.Context,
	tx *redis.Tx,
	kind store.TokenKind,
	idx string,
	match func(*store.Token) bool,
) (map[string][]byte, []interface{}, error) {
	hashes, err := tx.SMembers(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, err
	}
	if len(hashes) == 0 {
		return nil, nil, nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = s.tokenKey(kind, h)
	}
	if err := tx.Watch(ctx, keys...).Err(); err != nil {
		return nil, nil, err
	}

	updates := make(map[string][]byte)
	var stale []interface{}
	for i, k := range keys {
		old, err := readToken(ctx, tx, k)
		if errors.Is(err, store.ErrNotFound) {
			stale = append(stale, hashes[i])
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if !old.UsedAt.IsZero() || old.Superseded || !match(old) {
			continue
		}
		old.Superseded = true
		enc, err := encodeToken(old)
		if err != nil {
			return nil, nil, err
		}
		updates[k] = enc
	}
	return updates, stale, nil
}

// GetToken implements store.TokenStore.
func (s *Store) GetToken(ctx context.Context, kind store.TokenKind, hash string) (*store.Token, error) {
	t, err := readToken(ctx, s.rdb, s.tokenKey(kind, hash))
	return t, mapErr(err)
}

// ConsumeToken implements store.TokenStore.
func (s *Store) ConsumeToken(ctx context.Context, kind store.TokenKind, hash string, now time.Time) (*store.Token, error) {
	key := s.tokenKey(kind, hash)
	var out *store.Token

	err := s.watch(ctx, func(tx *redis.Tx) error {
		t, err := readToken(ctx, tx, key)
		if err != nil {
			return err
		}
		switch {
		case t.Superseded:
			return store.ErrNotFound
		case !t.UsedAt.IsZero():
			return store.ErrTokenUsed
		case !now.Before(t.ExpiresAt):
			return store.ErrTokenExpired
		}

		t.UsedAt = now
		data, err := encodeToken(t)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		}); err != nil {
			return err
		}
		out = t
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementTokenAttempts implements store.TokenStore.
func (s *Store) IncrementTokenAttempts(ctx context.Context, kind store.TokenKind, hash string, max int, now time.Time) (*store.Token, error) {
	key := s.tokenKey(kind, hash)
	var out *store.Token

	err := s.watch(ctx, func(tx *redis.Tx) error {
		t, err := readToken(ctx, tx, key)
		if err != nil {
			return err
		}
		if !t.Live(now) {
			return store.ErrNotFound
		}
		t.Attempts++
		if max > 0 && t.Attempts >= max {
			t.Superseded = true
		}
		data, err := encodeToken(t)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		}); err != nil {
			return err
		}
		out = t
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InvalidateUserTokens implements store.TokenStore.
func (s *Store) InvalidateUserTokens(ctx context.Context, kind store.TokenKind, userID string, now time.Time) (int, error) {
	idx := s.tokenIndexKey(kind, userID)
	var live int

	err := s.watch(ctx, func(tx *redis.Tx) error {
		live = 0
		updates, stale, err := s.supersedeLocked(ctx, tx, kind, idx, func(t *store.Token) bool {
			if t.Live(now) {
				live++
			}
			return true
		})
		if err != nil {
			return err
		}
		if len(updates) == 0 && len(stale) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, v := range updates {
				pipe.Set(ctx, k, v, redis.KeepTTL)
			}
			if len(stale) > 0 {
				pipe.SRem(ctx, idx, stale...)
			}
			return nil
		})
		return err
	}, idx)
	if err != nil {
		return 0, err
	}
	return live, nil
}

// DeleteExpiredTokens implements store.TokenStore.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.tokenExpiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, mapErr(err)
	}

	deleted := 0
	for _, m := range members {
		kind, hash, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		key := s.tokenKey(store.TokenKind(kind), hash)
		t, err := readToken(ctx, s.rdb, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return deleted, mapErr(err)
		}

		var del *redis.IntCmd
		_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, key)
			if t != nil {
				pipe.SRem(ctx, s.tokenIndexKey(t.Kind, t.UserID), t.Hash)
			}
			pipe.ZRem(ctx, s.tokenExpiryKey(), m)
			return nil
		})
		if err != nil {
			return deleted, mapErr(err)
		}
		deleted += int(del.Val())
	}
	return deleted, nil
}

/*
====================================
SESSIONS
====================================
*/

// CreateSession implements store.SessionStore.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	if sess == nil || sess.ID == "" || sess.TokenHash == "" {
		return store.ErrInvalidArgument
	}
	data, err := encodeSession(sess)
	if err != nil {
		return err
	}
	key := s.sessionKey(sess.ID)
	hashKey := s.sessionHashKey(sess.TokenHash)
	ttl := s.ttl(sess.CreatedAt, sess.ExpiresAt)

	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key, hashKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.Set(ctx, hashKey, sess.ID, ttl)
			pipe.SAdd(ctx, s.userSessionsKey(sess.UserID), sess.ID)
			pipe.ZAdd(ctx, s.sessionExpiryKey(), redis.Z{Score: score(sess.ExpiresAt), Member: sess.ID})
			return nil
		})
		return err
	}, key, hashKey)
}

// GetSession implements store.SessionStore.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	sess, err := readSession(ctx, s.rdb, s.sessionKey(id))
	return sess, mapErr(err)
}

// GetSessionByTokenHash implements store.SessionStore.
func (s *Store) GetSessionByTokenHash(ctx context.Context, hash string) (*store.Session, error) {
	id, err := s.rdb.Get(ctx, s.sessionHashKey(hash)).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	return s.GetSession(ctx, id)
}

// TouchSession implements store.SessionStore.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time, expiresAt time.Time) error {
	key := s.sessionKey(id)

	return s.watch(ctx, func(tx *redis.Tx) error {
		sess, err := readSession(ctx, tx, key)
		if err != nil {
			return err
		}
		changed, extended := false, false
		if at.After(sess.LastUsedAt) {
			sess.LastUsedAt = at
			changed = true
		}
		if !expiresAt.IsZero() && expiresAt.After(sess.ExpiresAt) {
			sess.ExpiresAt = expiresAt
			changed, extended = true, true
		}
		if !changed {
			return nil
		}
		data, err := encodeSession(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if !extended {
				pipe.Set(ctx, key, data, redis.KeepTTL)
				return nil
			}
			ttl := s.ttl(at, sess.ExpiresAt)
			pipe.Set(ctx, key, data, ttl)
			pipe.Expire(ctx, s.sessionHashKey(sess.TokenHash), ttl)
			pipe.ZAdd(ctx, s.sessionExpiryKey(), redis.Z{Score: score(sess.ExpiresAt), Member: id})
			return nil
		})
		return err
	}, key)
}

// DeleteSession implements store.SessionStore.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.deleteSession(ctx, id)
	return err
}

// deleteSession reports whether the session existed.
func (s *Store) deleteSession(ctx context.Context, id string) (bool, error) {
	sess, err := readSession(ctx, s.rdb, s.sessionKey(id))
	if errors.Is(err, store.ErrNotFound) {
		if err := s.rdb.ZRem(ctx, s.sessionExpiryKey(), id).Err(); err != nil {
			return false, mapErr(err)
		}
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}

	var del *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.sessionKey(id))
		pipe.Del(ctx, s.sessionHashKey(sess.TokenHash))
		pipe.SRem(ctx, s.userSessionsKey(sess.UserID), id)
		pipe.ZRem(ctx, s.sessionExpiryKey(), id)
		return nil
	})
	if err != nil {
		return false, mapErr(err)
	}
	return del.Val() > 0, nil
}

// DeleteUserSessions implements store.SessionStore.
//
// The member set is read before deleting, so a session created concurrently
// with this call may survive it.
func (s *Store) DeleteUserSessions(ctx context.Context, userID, exceptID string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, s.userSessionsKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, mapErr(err)
	}

	n := 0
	for _, id := range ids {
		if id == exceptID {
			continue
		}
		existed, err := s.deleteSession(ctx, id)
		if err != nil {
			return n, err
		}
		if existed {
			n++
		} else if err := s.rdb.SRem(ctx, s.userSessionsKey(userID), id).Err(); err != nil {
			return n, mapErr(err)
		}
	}
	return n, nil
}

// ListUserSessions implements store.SessionStore.
func (s *Store) ListUserSessions(ctx context.Context, userID string) ([]store.Session, error) {
	setKey := s.userSessionsKey(userID)
	ids, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, mapErr(err)
	}
	out := make([]store.Session, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, mapErr(err)
	}

	var stale []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			return nil, mapErr(err)
		}
		sess, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, setKey, stale...).Err(); err != nil {
			return nil, mapErr(err)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

// DeleteExpiredSessions implements store.SessionStore.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.sessionExpiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, mapErr(err)
	}

	n := 0
	for _, id := range ids {
		sess, err := readSession(ctx, s.rdb, s.sessionKey(id))
		if err == nil && !sess.Expired(now) {
			// extended since the range was read
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return n, mapErr(err)
		}
		existed, err := s.deleteSession(ctx, id)
		if err != nil {
			return n, err
		}
		if existed {
			n++
		}
	}
	return n, nil
}
