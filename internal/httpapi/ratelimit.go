package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"openbot.social/internal/audit"
	"openbot.social/internal/identity"
	"openbot.social/internal/obs"
)

// checkQuota enforces the fixed-window quota for (identifier, action) and
// writes the X-RateLimit-* headers. When the caller is over quota it writes
// the 429 (with retryAfter in the body) and returns false.
func (a *API) checkQuota(w http.ResponseWriter, r *http.Request, action identity.Action, identifier string) bool {
	if a.limiter == nil {
		return true
	}
	d := a.limiter.Check(r.Context(), identifier, action)

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if d.FailedOpen {
		obs.LogRequest(map[string]any{
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
			"level":      "warn",
			"msg":        "rate limiter backend unavailable, failing open",
			"request_id": RequestIDFromContext(r.Context()),
			"action":     string(action),
		})
	}
	if d.Allowed {
		return true
	}

	obs.RateLimitDenied(string(action))
	_ = audit.LogEvent(r.Context(), "ratelimit.denied", map[string]any{
		"action":     string(action),
		"identifier": identifier,
	})

	retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	payload := map[string]any{
		"error":      "rate limit exceeded",
		"retryAfter": retryAfter,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusTooManyRequests, payload)
	return false
}
