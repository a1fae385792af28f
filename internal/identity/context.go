package identity

import "context"

type ctxKey string

const sessionKey ctxKey = "identity_session"

// ContextWithSession stores the authenticated session in the context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	if sess == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the authenticated session, if any.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*Session)
	return sess, ok && sess != nil
}

// EntityIDFromContext returns the authenticated entity id, if any.
func EntityIDFromContext(ctx context.Context) (string, bool) {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return sess.EntityID, true
}
