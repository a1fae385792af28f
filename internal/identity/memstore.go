package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is the in-process backend used when no database is configured.
// All maps share one mutex, so check-then-insert sequences are a single
// critical section. State is process-local: with multiple instances,
// sessions and quotas are not shared — suitable for single-instance
// deployments only.
type MemStore struct {
	mu            sync.Mutex
	entities      map[string]*Entity // entity_id -> entity
	byName        map[string]string  // entity_name -> entity_id
	byFingerprint map[string]string  // fingerprint -> entity_id
	nextNumericID int64
	challenges    map[string]*Challenge
	sessions      map[string]*Session
	windows       map[windowKey]*RateLimitWindow
}

type windowKey struct {
	identifier string
	action     Action
}

// NewMemStore creates an empty in-memory backend.
func NewMemStore() *MemStore {
	return &MemStore{
		entities:      make(map[string]*Entity),
		byName:        make(map[string]string),
		byFingerprint: make(map[string]string),
		challenges:    make(map[string]*Challenge),
		sessions:      make(map[string]*Session),
		windows:       make(map[windowKey]*RateLimitWindow),
	}
}

func (s *MemStore) Entities() EntityStore      { return &memEntities{s} }
func (s *MemStore) Challenges() ChallengeStore { return &memChallenges{s} }
func (s *MemStore) Sessions() SessionStore     { return &memSessions{s} }
func (s *MemStore) RateLimits() RateLimitStore { return &memRateLimits{s} }

// Entity store ---------------------------------------------------------------

type memEntities struct{ s *MemStore }

func (m *memEntities) Create(ctx context.Context, e *Entity) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.entities[e.EntityID]; ok {
		return fmt.Errorf("%w: entity_id %q", ErrAlreadyExists, e.EntityID)
	}
	if _, ok := m.s.byName[e.EntityName]; ok {
		return fmt.Errorf("%w: entity_name %q", ErrAlreadyExists, e.EntityName)
	}
	if _, ok := m.s.byFingerprint[e.Fingerprint]; ok {
		return fmt.Errorf("%w: public key fingerprint", ErrAlreadyExists)
	}
	m.s.nextNumericID++
	e.NumericID = m.s.nextNumericID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	stored := *e
	m.s.entities[e.EntityID] = &stored
	m.s.byName[e.EntityName] = e.EntityID
	m.s.byFingerprint[e.Fingerprint] = e.EntityID
	return nil
}

func (m *memEntities) Find(ctx context.Context, entityID string) (*Entity, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	e, ok := m.s.entities[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *e
	return &out, nil
}

func (m *memEntities) FindByFingerprint(ctx context.Context, fingerprint string) (*Entity, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	id, ok := m.s.byFingerprint[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m.s.entities[id]
	return &out, nil
}

func (m *memEntities) Exists(ctx context.Context, entityID string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	_, ok := m.s.entities[entityID]
	return ok, nil
}

func (m *memEntities) NameExists(ctx context.Context, entityName string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	_, ok := m.s.byName[entityName]
	return ok, nil
}

func (m *memEntities) List(ctx context.Context, typeFilter EntityType) ([]*Entity, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*Entity
	for _, e := range m.s.entities {
		if typeFilter != "" && e.Type != typeFilter {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NumericID < out[j].NumericID })
	return out, nil
}

// Challenge store ------------------------------------------------------------

type memChallenges struct{ s *MemStore }

func (m *memChallenges) Put(ctx context.Context, ch *Challenge) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored := *ch
	stored.Raw = append([]byte(nil), ch.Raw...)
	m.s.challenges[ch.ID] = &stored
	return nil
}

func (m *memChallenges) Take(ctx context.Context, challengeID string) (*Challenge, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	ch, ok := m.s.challenges[challengeID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.s.challenges, challengeID)
	return ch, nil
}

func (m *memChallenges) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for id, ch := range m.s.challenges {
		if now.After(ch.ExpiresAt) {
			delete(m.s.challenges, id)
			n++
		}
	}
	return n, nil
}

// Session store --------------------------------------------------------------

type memSessions struct{ s *MemStore }

func (m *memSessions) Create(ctx context.Context, sess *Session) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored := *sess
	m.s.sessions[sess.Token] = &stored
	return nil
}

func (m *memSessions) Find(ctx context.Context, token string, now time.Time) (*Session, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[token]
	if !ok || sess.Revoked || !now.Before(sess.ExpiresAt) {
		return nil, ErrNotFound
	}
	out := *sess
	return &out, nil
}

func (m *memSessions) Revoke(ctx context.Context, token string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if sess, ok := m.s.sessions[token]; ok {
		sess.Revoked = true
	}
	return nil
}

func (m *memSessions) RevokeAll(ctx context.Context, entityID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, sess := range m.s.sessions {
		if sess.EntityID == entityID {
			sess.Revoked = true
		}
	}
	return nil
}

func (m *memSessions) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for token, sess := range m.s.sessions {
		if sess.Revoked || !now.Before(sess.ExpiresAt) {
			delete(m.s.sessions, token)
			n++
		}
	}
	return n, nil
}

// Rate limit store -----------------------------------------------------------

type memRateLimits struct{ s *MemStore }

func (m *memRateLimits) Take(ctx context.Context, identifier string, action Action, limit int, window time.Duration, now time.Time) (*RateLimitWindow, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := windowKey{identifier: identifier, action: action}
	win, ok := m.s.windows[key]
	if !ok || now.Sub(win.WindowStart) >= window {
		win = &RateLimitWindow{Identifier: identifier, Action: action, Count: 1, WindowStart: now}
		m.s.windows[key] = win
		out := *win
		return &out, true, nil
	}
	if win.Count >= limit {
		out := *win
		return &out, false, nil
	}
	win.Count++
	out := *win
	return &out, true, nil
}

func (m *memRateLimits) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for key, win := range m.s.windows {
		if win.WindowStart.Before(cutoff) {
			delete(m.s.windows, key)
			n++
		}
	}
	return n, nil
}
