package httpapi

import (
	"net/http"
	"strings"
	"time"

	"openbot.social/internal/identity"
	"openbot.social/internal/obs"
)

const encryptHeader = "X-Encrypt-Response"

// respondMaybeEncrypted writes the payload, wrapped in the hybrid envelope
// when the caller asked for it via X-Encrypt-Response. Encryption failures
// degrade to the plaintext response: the envelope is an enhancement, not a
// correctness requirement.
func (a *API) respondMaybeEncrypted(w http.ResponseWriter, r *http.Request, code int, payload any, entityID string) {
	if !strings.EqualFold(strings.TrimSpace(r.Header.Get(encryptHeader)), "true") {
		writeJSON(w, code, payload)
		return
	}

	e, err := a.identity.Entity(r.Context(), entityID)
	if err != nil {
		writeJSON(w, code, payload)
		return
	}
	env, err := identity.EncryptPayload(payload, e.PublicKey)
	if err != nil {
		obs.LogRequest(map[string]any{
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
			"level":      "warn",
			"msg":        "response encryption failed, sending plaintext",
			"request_id": RequestIDFromContext(r.Context()),
			"entity_id":  entityID,
		})
		writeJSON(w, code, payload)
		return
	}
	writeJSON(w, code, env)
}
