package social

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/MrEthical07/accountcore/store"
)

// Mode tells the callback what to do with the verified identity.
type Mode string

const (
	// ModeLogin signs in or creates an account.
	ModeLogin Mode = "login"
	// ModeLink attaches the identity to an authenticated user.
	ModeLink Mode = "link"
)

// Pending is the server-side half of an authorization request.
type Pending struct {
	Provider store.Provider
	Nonce    string
	Mode     Mode
	// UserID is set for ModeLink.
	UserID    string
	CreatedAt time.Time
}

// StateStore keeps pending authorization requests keyed by their state
// parameter. Each state can be taken once.
type StateStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewStateStore returns a store whose entries expire after ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{
		cache: gocache.New(ttl, time.Minute),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Begin records a pending request and returns its state and nonce.
func (s *StateStore) Begin(provider store.Provider, mode Mode, userID string) (state, nonce string, err error) {
	if state, err = randomString(32); err != nil {
		return "", "", err
	}
	if nonce, err = randomString(32); err != nil {
		return "", "", err
	}
	s.cache.Set(state, Pending{
		Provider:  provider,
		Nonce:     nonce,
		Mode:      mode,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}, s.ttl)
	return state, nonce, nil
}

// Take returns and removes the pending request for state. The provider must
// match the one the request was started for.
func (s *StateStore) Take(provider store.Provider, state string) (Pending, error) {
	if state == "" {
		return Pending{}, ErrInvalidState
	}
	s.mu.Lock()
	v, ok := s.cache.Get(state)
	if ok {
		s.cache.Delete(state)
	}
	s.mu.Unlock()

	if !ok {
		return Pending{}, ErrInvalidState
	}
	p, ok := v.(Pending)
	if !ok || p.Provider != provider {
		return Pending{}, ErrInvalidState
	}
	return p, nil
}

// Len reports the number of pending requests, expired ones included until
// the janitor runs.
func (s *StateStore) Len() int {
	return s.cache.ItemCount()
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
