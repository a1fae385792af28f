package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"openbot.social/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// requireSession authenticates the bearer token against codec and session
// store. On failure it writes the 401 and returns ok=false.
func (a *API) requireSession(w http.ResponseWriter, r *http.Request) (*identity.Session, bool) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="openbot"`)
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return nil, false
	}
	sess, err := a.identity.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="openbot"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
		} else {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
		}
		return nil, false
	}
	return sess, true
}
