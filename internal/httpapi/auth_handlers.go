package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"openbot.social/internal/audit"
	"openbot.social/internal/identity"
	"openbot.social/internal/obs"
)

type challengeRequest struct {
	EntityID string `json:"entity_id"`
}

type sessionRequest struct {
	EntityID    string `json:"entity_id"`
	ChallengeID string `json:"challenge_id"`
	Signature   string `json:"signature"`
}

type sessionResponse struct {
	Success      bool      `json:"success"`
	SessionToken string    `json:"session_token"`
	EntityID     string    `json:"entity_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

func sessionResponseOf(sess *identity.Session) sessionResponse {
	return sessionResponse{
		Success:      true,
		SessionToken: sess.Token,
		EntityID:     sess.EntityID,
		ExpiresAt:    sess.ExpiresAt,
		TokenType:    "Bearer",
	}
}

func (a *API) handleAuthChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.checkQuota(w, r, identity.ActionAuthChallenge, clientIP(r)) {
		return
	}

	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		writeError(w, r, http.StatusBadRequest, "entity_id is required")
		return
	}

	ch, err := a.identity.IssueChallenge(r.Context(), entityID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.challenge.issued", map[string]any{
		"entity_id":    entityID,
		"challenge_id": ch.ChallengeID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"challenge_id":        ch.ChallengeID,
		"encrypted_challenge": ch.EncryptedChallenge,
		"expires_in":          int(a.identity.ChallengeTTL().Seconds()),
	})
}

func (a *API) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.exchangeChallenge(w, r)
	case http.MethodDelete:
		a.revokeSession(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) exchangeChallenge(w http.ResponseWriter, r *http.Request) {
	if !a.checkQuota(w, r, identity.ActionAuthSession, clientIP(r)) {
		return
	}

	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entityID := strings.TrimSpace(req.EntityID)
	challengeID := strings.TrimSpace(req.ChallengeID)
	if entityID == "" || challengeID == "" || strings.TrimSpace(req.Signature) == "" {
		writeError(w, r, http.StatusBadRequest, "entity_id, challenge_id, and signature are required")
		return
	}

	sess, err := a.identity.ExchangeChallenge(r.Context(), entityID, challengeID, req.Signature, clientIP(r))
	if err != nil {
		obs.AuthHandshake(handshakeResult(err))
		handleIdentityError(w, r, err)
		return
	}
	obs.AuthHandshake("ok")

	_ = audit.LogEvent(r.Context(), "auth.session.issued", map[string]any{
		"entity_id":  entityID,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})

	a.respondMaybeEncrypted(w, r, http.StatusOK, sessionResponseOf(sess), entityID)
}

func (a *API) revokeSession(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="openbot"`)
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}

	// Idempotent: revoking an already-revoked session still succeeds.
	if err := a.identity.RevokeToken(r.Context(), token); err != nil {
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.session.revoked", nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.checkQuota(w, r, identity.ActionAuthSession, clientIP(r)) {
		return
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="openbot"`)
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}

	sess, err := a.identity.Refresh(r.Context(), token, clientIP(r))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.session.refreshed", map[string]any{
		"entity_id":  sess.EntityID,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})

	a.respondMaybeEncrypted(w, r, http.StatusOK, sessionResponseOf(sess), sess.EntityID)
}

func (a *API) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess, ok := a.requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"entity_id":  sess.EntityID,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
}

func handshakeResult(err error) string {
	switch {
	case errors.Is(err, identity.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, identity.ErrChallengeExpired):
		return "expired"
	case errors.Is(err, identity.ErrForbidden):
		return "mismatch"
	case errors.Is(err, identity.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
