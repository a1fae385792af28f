package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSessionTTL   = 24 * time.Hour
	defaultChallengeTTL = 5 * time.Minute
	defaultIssuer       = "openbot"
	challengeBytes      = 32
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// Service implements registration, challenge-response authentication, and
// session lifecycle on top of a Store backend.
type Service struct {
	store Store
	codec *TokenCodec
	now   func() time.Time

	secret       []byte
	issuer       string
	sessionTTL   time.Duration
	challengeTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HMAC secret used to sign session tokens.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("identity: token secret must not be empty")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if iss := strings.TrimSpace(issuer); iss != "" {
			s.issuer = iss
		}
		return nil
	}
}

// WithSessionTTL configures session token lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithChallengeTTL configures challenge lifetime.
func WithChallengeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.challengeTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. A token secret is required.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		store:        store,
		now:          time.Now,
		issuer:       defaultIssuer,
		sessionTTL:   defaultSessionTTL,
		challengeTTL: defaultChallengeTTL,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if len(s.secret) == 0 {
		return nil, errors.New("identity: token secret is required")
	}
	s.codec = NewTokenCodec(s.secret, s.issuer, s.sessionTTL, func() time.Time { return s.now() })
	return s, nil
}

// ChallengeTTL reports the configured challenge lifetime.
func (s *Service) ChallengeTTL() time.Duration { return s.challengeTTL }

// RegisterParams are the caller-supplied fields for entity creation.
type RegisterParams struct {
	EntityID    string
	EntityName  string
	DisplayName string
	Type        EntityType
	PublicKey   string
}

// Register validates and persists a new entity. EntityName defaults to
// EntityID, DisplayName to EntityName, Type to lobster. Conflicts on
// entity_id, entity_name, and fingerprint are checked in that order; the
// store's own uniqueness guarantee backs the pre-checks under concurrent
// registration.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*Entity, error) {
	id := strings.TrimSpace(p.EntityID)
	if !namePattern.MatchString(id) {
		return nil, fmt.Errorf("%w: entity_id must be 3-64 characters of A-Za-z0-9_-", ErrInvalidInput)
	}
	name := strings.TrimSpace(p.EntityName)
	if name == "" {
		name = id
	}
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: entity_name must be 3-64 characters of A-Za-z0-9_-", ErrInvalidInput)
	}
	display := strings.TrimSpace(p.DisplayName)
	if display == "" {
		display = name
	}
	typ := p.Type
	if typ == "" {
		typ = EntityTypeLobster
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown entity_type %q", ErrInvalidInput, typ)
	}
	if _, err := ValidateKey(p.PublicKey); err != nil {
		return nil, err
	}
	fp := Fingerprint(p.PublicKey)

	entities := s.store.Entities()
	if exists, err := entities.Exists(ctx, id); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: entity_id %q is taken", ErrAlreadyExists, id)
	}
	if exists, err := entities.NameExists(ctx, name); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: entity_name %q is taken", ErrAlreadyExists, name)
	}
	if _, err := entities.FindByFingerprint(ctx, fp); err == nil {
		return nil, fmt.Errorf("%w: public key already registered to another entity", ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	e := &Entity{
		EntityID:    id,
		EntityName:  name,
		DisplayName: display,
		Type:        typ,
		PublicKey:   p.PublicKey,
		Fingerprint: fp,
		CreatedAt:   s.now().UTC(),
	}
	if err := entities.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Entity returns a registered entity by id.
func (s *Service) Entity(ctx context.Context, entityID string) (*Entity, error) {
	return s.store.Entities().Find(ctx, entityID)
}

// ListEntities returns entities ordered by numeric id, optionally filtered
// by type.
func (s *Service) ListEntities(ctx context.Context, typeFilter EntityType) ([]*Entity, error) {
	if typeFilter != "" && !typeFilter.Valid() {
		return nil, fmt.Errorf("%w: unknown entity_type %q", ErrInvalidInput, typeFilter)
	}
	return s.store.Entities().List(ctx, typeFilter)
}

// IssuedChallenge is the transport form of a challenge: the nonce itself is
// only ever returned OAEP-encrypted under the entity's registered key.
type IssuedChallenge struct {
	ChallengeID        string
	EncryptedChallenge string // base64
	ExpiresAt          time.Time
}

// IssueChallenge generates a single-use proof-of-possession nonce for the
// entity. The raw nonce is stored server-side together with a snapshot of
// the public key; only the encrypted blob leaves the service.
func (s *Service) IssueChallenge(ctx context.Context, entityID string) (*IssuedChallenge, error) {
	e, err := s.store.Entities().Find(ctx, entityID)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, challengeBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	pub, err := parsePublicKey(e.PublicKey)
	if err != nil {
		// Registered keys passed validation; a parse failure here is corruption.
		return nil, fmt.Errorf("parse registered key for %s: %w", entityID, err)
	}
	blob, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt challenge for %s: %w", entityID, err)
	}
	ch := &Challenge{
		ID:        uuid.NewString(),
		Raw:       raw,
		EntityID:  entityID,
		PublicKey: e.PublicKey,
		ExpiresAt: s.now().UTC().Add(s.challengeTTL),
	}
	if err := s.store.Challenges().Put(ctx, ch); err != nil {
		return nil, err
	}
	return &IssuedChallenge{
		ChallengeID:        ch.ID,
		EncryptedChallenge: base64.StdEncoding.EncodeToString(blob),
		ExpiresAt:          ch.ExpiresAt,
	}, nil
}

// ExchangeChallenge consumes the challenge and, when the signature proves
// possession of the private key, starts a session. The challenge is removed
// before the signature is examined, so a failed attempt can never be retried
// against the same challenge. Clients sign the lowercase hex encoding of the
// decrypted nonce.
func (s *Service) ExchangeChallenge(ctx context.Context, entityID, challengeID, signatureB64, ip string) (*Session, error) {
	ch, err := s.store.Challenges().Take(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if ch.EntityID != entityID {
		return nil, fmt.Errorf("%w: challenge was issued to another entity", ErrForbidden)
	}
	if s.now().After(ch.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	if !VerifySignature(ch.PublicKey, hex.EncodeToString(ch.Raw), signatureB64) {
		return nil, ErrBadSignature
	}
	return s.startSession(ctx, entityID, ip)
}

func (s *Service) startSession(ctx context.Context, entityID, ip string) (*Session, error) {
	token, exp, err := s.codec.Issue(entityID)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		Token:     token,
		EntityID:  entityID,
		IssuedAt:  s.now().UTC(),
		ExpiresAt: exp,
		IPAddress: ip,
	}
	if err := s.store.Sessions().Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Authenticate validates a bearer token: signature and expiry through the
// codec, then liveness (not revoked, not swept) through the session store.
func (s *Service) Authenticate(ctx context.Context, token string) (*Session, error) {
	if _, err := s.codec.Verify(token); err != nil {
		return nil, ErrInvalidToken
	}
	sess, err := s.store.Sessions().Find(ctx, token, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return sess, nil
}

// Refresh revokes the presented session and issues a replacement. The old
// token is dead before the new one exists: a failure partway leaves the
// caller logged out, never holding two live credentials.
func (s *Service) Refresh(ctx context.Context, token, ip string) (*Session, error) {
	sess, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.store.Sessions().Revoke(ctx, token); err != nil {
		return nil, err
	}
	return s.startSession(ctx, sess.EntityID, ip)
}

// RevokeToken invalidates the session for the given token. Revoking an
// already-revoked session succeeds: the outcome the caller asked for already
// holds. Structurally invalid tokens are still rejected.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	if _, err := s.codec.Verify(token); err != nil {
		return ErrInvalidToken
	}
	return s.store.Sessions().Revoke(ctx, token)
}

// RevokeAll invalidates every session held by the entity.
func (s *Service) RevokeAll(ctx context.Context, entityID string) error {
	return s.store.Sessions().RevokeAll(ctx, entityID)
}

// SweepChallenges deletes expired challenges; bounds memory growth from
// abandoned handshakes.
func (s *Service) SweepChallenges(ctx context.Context) (int, error) {
	return s.store.Challenges().DeleteExpired(ctx, s.now().UTC())
}

// SweepSessions deletes expired and revoked session rows.
func (s *Service) SweepSessions(ctx context.Context) (int, error) {
	return s.store.Sessions().DeleteExpired(ctx, s.now().UTC())
}
