package identity

import "time"

// EntityType classifies a registered identity.
type EntityType string

const (
	EntityTypeLobster EntityType = "lobster"
	EntityTypeAgent   EntityType = "agent"
	EntityTypeNPC     EntityType = "npc"
	EntityTypeService EntityType = "service"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeLobster, EntityTypeAgent, EntityTypeNPC, EntityTypeService:
		return true
	}
	return false
}

// Entity is a registered identity backed by an RSA key pair. The public key
// and fingerprint are fixed at registration; there is no rotation.
type Entity struct {
	EntityID    string
	EntityName  string
	DisplayName string
	Type        EntityType
	PublicKey   string // PEM
	Fingerprint string
	NumericID   int64
	CreatedAt   time.Time
}

// Challenge is a single-use proof-of-possession nonce. Raw never leaves the
// identity package; callers only ever see the OAEP-encrypted transport form.
// PublicKey snapshots the entity key at issuance so verification cannot be
// influenced by later state.
type Challenge struct {
	ID        string
	Raw       []byte
	EntityID  string
	PublicKey string
	ExpiresAt time.Time
}

// Session is a live authenticated grant. The token itself carries signature
// and expiry; the stored row exists to support revocation before natural
// expiry.
type Session struct {
	Token     string
	EntityID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
	IPAddress string
}

// RateLimitWindow is the fixed-window counter for one (identifier, action)
// pair. At most one window is active per pair; an elapsed window is replaced,
// never incremented.
type RateLimitWindow struct {
	Identifier  string
	Action      Action
	Count       int
	WindowStart time.Time
}
