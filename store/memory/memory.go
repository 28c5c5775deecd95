// Package memory is an in-process implementation of store.Store guarded by a
// single mutex. It is meant for tests, development and single-node setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/accountcore/store"
)

// Store is a mutex-guarded in-memory store.Store.
type Store struct {
	mu sync.Mutex

	users      map[string]*store.UserRecord
	byEmail    map[string]string
	byUsername map[string]string

	tokens map[string]*store.Token

	sessions       map[string]*store.Session
	sessionsByHash map[string]string

	oauth map[string]*store.OAuthAccount

	activity []store.ActivityItem
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:          make(map[string]*store.UserRecord),
		byEmail:        make(map[string]string),
		byUsername:     make(map[string]string),
		tokens:         make(map[string]*store.Token),
		sessions:       make(map[string]*store.Session),
		sessionsByHash: make(map[string]string),
		oauth:          make(map[string]*store.OAuthAccount),
	}
}

func tokenKey(kind store.TokenKind, hash string) string {
	return string(kind) + ":" + hash
}

func oauthKey(p store.Provider, providerUserID string) string {
	return string(p) + ":" + providerUserID
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return store.ErrUnavailable
	}
	return nil
}

// CreateUser implements store.UserStore.
func (s *Store) CreateUser(ctx context.Context, rec *store.UserRecord, link *store.OAuthAccount) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[rec.ID]; ok {
		return store.ErrConflict
	}
	email := store.NormalizeEmail(rec.Email)
	if _, ok := s.byEmail[email]; ok {
		return store.ErrEmailExists
	}
	uname := store.NormalizeUsername(rec.Username)
	if _, ok := s.byUsername[uname]; ok {
		return store.ErrUsernameExists
	}
	if link != nil {
		if _, ok := s.oauth[oauthKey(link.Provider, link.ProviderUserID)]; ok {
			return store.ErrIdentityExists
		}
	}

	cp := rec.Clone()
	cp.Version = 1
	s.users[cp.ID] = cp
	s.byEmail[email] = cp.ID
	s.byUsername[uname] = cp.ID
	rec.Version = cp.Version

	if link != nil {
		l := *link
		l.UserID = cp.ID
		s.oauth[oauthKey(l.Provider, l.ProviderUserID)] = &l
	}
	return nil
}

// GetUser implements store.UserStore.
func (s *Store) GetUser(ctx context.Context, id string) (*store.UserRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

// FindUserByEmail implements store.UserStore.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.UserRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[store.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.users[id].Clone(), nil
}

// FindUserByLogin implements store.UserStore.
func (s *Store) FindUserByLogin(ctx context.Context, identifier string) (*store.UserRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byEmail[store.NormalizeEmail(identifier)]; ok {
		return s.users[id].Clone(), nil
	}
	if id, ok := s.byUsername[store.NormalizeUsername(identifier)]; ok {
		return s.users[id].Clone(), nil
	}
	return nil, store.ErrNotFound
}

// UpdateUser implements store.UserStore.
func (s *Store) UpdateUser(ctx context.Context, id string, fn func(*store.UserRecord) error) (*store.UserRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.ID != cur.ID {
		return nil, store.ErrImmutableField
	}

	oldEmail := store.NormalizeEmail(cur.Email)
	newEmail := store.NormalizeEmail(next.Email)
	if newEmail != oldEmail {
		if _, taken := s.byEmail[newEmail]; taken {
			return nil, store.ErrEmailExists
		}
	}
	oldName := store.NormalizeUsername(cur.Username)
	newName := store.NormalizeUsername(next.Username)
	if newName != oldName {
		if _, taken := s.byUsername[newName]; taken {
			return nil, store.ErrUsernameExists
		}
	}

	if newEmail != oldEmail {
		delete(s.byEmail, oldEmail)
		s.byEmail[newEmail] = id
	}
	if newName != oldName {
		delete(s.byUsername, oldName)
		s.byUsername[newName] = id
	}

	next.Version = cur.Version + 1
	s.users[id] = next
	return next.Clone(), nil
}

// SaveToken implements store.TokenStore.
func (s *Store) SaveToken(ctx context.Context, t *store.Token) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if t == nil || t.Hash == "" || !t.Kind.Valid() {
		return store.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey(t.Kind, t.Hash)
	if _, ok := s.tokens[key]; ok {
		return store.ErrConflict
	}
	for _, existing := range s.tokens {
		if existing.Kind == t.Kind && existing.UserID == t.UserID && existing.UsedAt.IsZero() {
			existing.Superseded = true
		}
	}
	cp := *t
	s.tokens[key] = &cp
	return nil
}

// GetToken implements store.TokenStore.
func (s *Store) GetToken(ctx context.Context, kind store.TokenKind, hash string) (*store.Token, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenKey(kind, hash)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ConsumeToken implements store.TokenStore.
func (s *Store) ConsumeToken(ctx context.Context, kind store.TokenKind, hash string, now time.Time) (*store.Token, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenKey(kind, hash)]
	if !ok || t.Superseded {
		return nil, store.ErrNotFound
	}
	if !t.UsedAt.IsZero() {
		return nil, store.ErrTokenUsed
	}
	if !now.Before(t.ExpiresAt) {
		return nil, store.ErrTokenExpired
	}
	t.UsedAt = now
	cp := *t
	return &cp, nil
}

// IncrementTokenAttempts implements store.TokenStore.
func (s *Store) IncrementTokenAttempts(ctx context.Context, kind store.TokenKind, hash string, max int, now time.Time) (*store.Token, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenKey(kind, hash)]
	if !ok || !t.Live(now) {
		return nil, store.ErrNotFound
	}
	t.Attempts++
	if max > 0 && t.Attempts >= max {
		t.Superseded = true
	}
	cp := *t
	return &cp, nil
}

// InvalidateUserTokens implements store.TokenStore.
func (s *Store) InvalidateUserTokens(ctx context.Context, kind store.TokenKind, userID string, now time.Time) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tokens {
		if t.Kind != kind || t.UserID != userID {
			continue
		}
		if t.Live(now) {
			n++
		}
		if t.UsedAt.IsZero() {
			t.Superseded = true
		}
	}
	return n, nil
}

// DeleteExpiredTokens implements store.TokenStore.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, t := range s.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

// CreateSession implements store.SessionStore.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if sess == nil || sess.ID == "" || sess.TokenHash == "" {
		return store.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.sessionsByHash[sess.TokenHash]; ok {
		return store.ErrConflict
	}
	cp := *sess
	s.sessions[cp.ID] = &cp
	s.sessionsByHash[cp.TokenHash] = cp.ID
	return nil
}

// GetSession implements store.SessionStore.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// GetSessionByTokenHash implements store.SessionStore.
func (s *Store) GetSessionByTokenHash(ctx context.Context, hash string) (*store.Session, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessionsByHash[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

// TouchSession implements store.SessionStore.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time, expiresAt time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if at.After(sess.LastUsedAt) {
		sess.LastUsedAt = at
	}
	if !expiresAt.IsZero() && expiresAt.After(sess.ExpiresAt) {
		sess.ExpiresAt = expiresAt
	}
	return nil
}

// DeleteSession implements store.SessionStore.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteSessionLocked(id)
	return nil
}

func (s *Store) deleteSessionLocked(id string) bool {
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	delete(s.sessionsByHash, sess.TokenHash)
	delete(s.sessions, id)
	return true
}

// DeleteUserSessions implements store.SessionStore.
func (s *Store) DeleteUserSessions(ctx context.Context, userID, exceptID string) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.UserID != userID || id == exceptID {
			continue
		}
		if s.deleteSessionLocked(id) {
			n++
		}
	}
	return n, nil
}

// ListUserSessions implements store.SessionStore.
func (s *Store) ListUserSessions(ctx context.Context, userID string) ([]store.Session, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Session, 0, 4)
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

// DeleteExpiredSessions implements store.SessionStore.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) && s.deleteSessionLocked(id) {
			n++
		}
	}
	return n, nil
}

// GetOAuthAccount implements store.OAuthStore.
func (s *Store) GetOAuthAccount(ctx context.Context, provider store.Provider, providerUserID string) (*store.OAuthAccount, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.oauth[oauthKey(provider, providerUserID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

// ListOAuthAccounts implements store.OAuthStore.
func (s *Store) ListOAuthAccounts(ctx context.Context, userID string) ([]store.OAuthAccount, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.userLinksLocked(userID), nil
}

func (s *Store) userLinksLocked(userID string) []store.OAuthAccount {
	out := make([]store.OAuthAccount, 0, 2)
	for _, acct := range s.oauth {
		if acct.UserID == userID {
			out = append(out, *acct)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CreateOAuthAccount implements store.OAuthStore.
func (s *Store) CreateOAuthAccount(ctx context.Context, acct *store.OAuthAccount) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if acct == nil || acct.UserID == "" || !acct.Provider.Valid() || acct.ProviderUserID == "" {
		return store.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[acct.UserID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.oauth[oauthKey(acct.Provider, acct.ProviderUserID)]; ok {
		return store.ErrIdentityExists
	}
	for _, l := range s.userLinksLocked(acct.UserID) {
		if l.Provider == acct.Provider {
			return store.ErrProviderLinked
		}
	}
	cp := *acct
	s.oauth[oauthKey(cp.Provider, cp.ProviderUserID)] = &cp
	return nil
}

// DeleteOAuthAccount implements store.OAuthStore.
func (s *Store) DeleteOAuthAccount(ctx context.Context, userID string, provider store.Provider) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	links := s.userLinksLocked(userID)
	var target *store.OAuthAccount
	for i := range links {
		if links[i].Provider == provider {
			target = &links[i]
		}
	}
	if target == nil {
		return store.ErrNotFound
	}
	if !rec.HasPassword() && len(links) <= 1 {
		return store.ErrLastLoginMethod
	}
	delete(s.oauth, oauthKey(target.Provider, target.ProviderUserID))
	return nil
}

// AppendActivity implements store.ActivityStore.
func (s *Store) AppendActivity(ctx context.Context, item *store.ActivityItem) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if item == nil || item.ID == "" {
		return store.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activity = append(s.activity, *item)
	return nil
}

// QueryActivity implements store.ActivityStore.
func (s *Store) QueryActivity(ctx context.Context, userID string, f store.ActivityFilter) ([]store.ActivityItem, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.ActivityItem, 0, 16)
	for i := len(s.activity) - 1; i >= 0; i-- {
		item := s.activity[i]
		if item.UserID != userID || !f.Match(&item) {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
