package identity

import (
	"context"
	"time"
)

// Action identifies a rate-limited operation class.
type Action string

const (
	ActionEntityCreate  Action = "entity_create"
	ActionAuthChallenge Action = "auth_challenge"
	ActionAuthSession   Action = "auth_session"
	ActionChat          Action = "chat"
	ActionMove          Action = "move"
	ActionAction        Action = "action"
	ActionGeneral       Action = "general"
)

// Rule is a fixed-window quota: at most Limit requests per Window. PerEntity
// rules count against the authenticated entity id; the rest count against
// the client IP.
type Rule struct {
	Limit     int
	Window    time.Duration
	PerEntity bool
}

// DefaultRules is the production quota table.
var DefaultRules = map[Action]Rule{
	ActionEntityCreate:  {Limit: 5, Window: time.Hour},
	ActionAuthChallenge: {Limit: 20, Window: time.Hour},
	ActionAuthSession:   {Limit: 30, Window: time.Hour},
	ActionChat:          {Limit: 60, Window: time.Minute, PerEntity: true},
	ActionMove:          {Limit: 120, Window: time.Minute, PerEntity: true},
	ActionAction:        {Limit: 60, Window: time.Minute, PerEntity: true},
	ActionGeneral:       {Limit: 300, Window: time.Minute},
}

// Decision reports the outcome of a quota check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
	FailedOpen bool          // backend error, request waved through
}

// Limiter applies fixed-window quotas backed by a RateLimitStore. Fixed
// windows are deliberately simple and slightly bursty at boundaries; the
// traffic this guards is spam, not billing-grade metering. A backend failure
// fails open: an unreachable store must never lock out all traffic.
type Limiter struct {
	store RateLimitStore
	rules map[Action]Rule
	now   func() time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithRules replaces the default quota table.
func WithRules(rules map[Action]Rule) LimiterOption {
	return func(l *Limiter) {
		if len(rules) > 0 {
			l.rules = rules
		}
	}
}

// WithLimiterClock overrides the time source (useful for tests).
func WithLimiterClock(fn func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLimiter constructs a Limiter with the default rule table.
func NewLimiter(store RateLimitStore, opts ...LimiterOption) *Limiter {
	l := &Limiter{store: store, rules: DefaultRules, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Rule returns the configured rule for an action, falling back to the
// general quota for unknown actions.
func (l *Limiter) Rule(action Action) Rule {
	if rule, ok := l.rules[action]; ok {
		return rule
	}
	return l.rules[ActionGeneral]
}

// Check consumes one request from the window for (identifier, action).
func (l *Limiter) Check(ctx context.Context, identifier string, action Action) Decision {
	rule := l.Rule(action)
	now := l.now().UTC()

	win, allowed, err := l.store.Take(ctx, identifier, action, rule.Limit, rule.Window, now)
	if err != nil {
		return Decision{
			Allowed:    true,
			Limit:      rule.Limit,
			Remaining:  rule.Limit - 1,
			ResetAt:    now.Add(rule.Window),
			FailedOpen: true,
		}
	}

	remaining := rule.Limit - win.Count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   allowed,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   win.WindowStart.Add(rule.Window),
	}
	if !allowed {
		d.RetryAfter = d.ResetAt.Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d
}
