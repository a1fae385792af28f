package identity

import (
	"context"
	"time"
)

// Store bundles the persistence surfaces of the identity subsystem. The
// backend is selected once at startup (Postgres when a DSN is configured,
// in-memory otherwise); everything above this interface is oblivious to
// which one is active.
type Store interface {
	Entities() EntityStore
	Challenges() ChallengeStore
	Sessions() SessionStore
	RateLimits() RateLimitStore
}

// EntityStore owns Entity records. Entities are created once and never
// mutated or deleted.
type EntityStore interface {
	// Create persists the entity and assigns its NumericID. Any uniqueness
	// violation (entity_id, entity_name, fingerprint) is ErrAlreadyExists;
	// under the Postgres backend the unique constraints are the source of
	// truth, under the in-memory backend a single critical section is.
	Create(ctx context.Context, e *Entity) error
	Find(ctx context.Context, entityID string) (*Entity, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*Entity, error)
	Exists(ctx context.Context, entityID string) (bool, error)
	NameExists(ctx context.Context, entityName string) (bool, error)
	// List returns entities ordered by NumericID ascending, optionally
	// filtered by type.
	List(ctx context.Context, typeFilter EntityType) ([]*Entity, error)
}

// ChallengeStore owns Challenge records and never exposes them outside the
// identity package.
type ChallengeStore interface {
	Put(ctx context.Context, ch *Challenge) error
	// Take removes and returns the challenge as one atomic step. A second
	// Take with the same id is ErrNotFound regardless of what happened to
	// the first: this is what enforces single use.
	Take(ctx context.Context, challengeID string) (*Challenge, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SessionStore owns Session records.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	// Find returns only live sessions. A row that exists but is revoked or
	// expired is ErrNotFound from the caller's perspective.
	Find(ctx context.Context, token string, now time.Time) (*Session, error)
	// Revoke marks the session revoked. Revoking an unknown or already
	// revoked token is not an error.
	Revoke(ctx context.Context, token string) error
	RevokeAll(ctx context.Context, entityID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// RateLimitStore owns the fixed-window counters.
type RateLimitStore interface {
	// Take performs the read-check-increment as one atomic step: reset the
	// window if it has elapsed, otherwise increment unless the count has
	// reached limit, in which case the count is left untouched and allowed
	// is false. The returned window reflects the state after the call.
	Take(ctx context.Context, identifier string, action Action, limit int, window time.Duration, now time.Time) (*RateLimitWindow, bool, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)
}
