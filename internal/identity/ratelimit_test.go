package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterEnforcesFixedWindow(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(NewMemStore().RateLimits(),
		WithRules(map[Action]Rule{
			ActionEntityCreate: {Limit: 3, Window: time.Hour},
			ActionGeneral:      {Limit: 100, Window: time.Minute},
		}),
		WithLimiterClock(clock.Now),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := limiter.Check(ctx, "198.51.100.7", ActionEntityCreate)
		if !d.Allowed {
			t.Fatalf("request %d denied within quota", i+1)
		}
		if d.Remaining != 3-(i+1) {
			t.Fatalf("request %d: remaining = %d", i+1, d.Remaining)
		}
	}

	d := limiter.Check(ctx, "198.51.100.7", ActionEntityCreate)
	if d.Allowed {
		t.Fatalf("request over quota allowed")
	}
	if d.Remaining != 0 {
		t.Fatalf("denied decision remaining = %d", d.Remaining)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
		t.Fatalf("retry-after = %v", d.RetryAfter)
	}
	if want := clock.Now().Add(time.Hour); !d.ResetAt.Equal(want) {
		t.Fatalf("reset = %v, want %v", d.ResetAt, want)
	}

	// Another identifier is unaffected.
	if d := limiter.Check(ctx, "198.51.100.8", ActionEntityCreate); !d.Allowed {
		t.Fatalf("independent identifier denied")
	}
}

func TestLimiterDenialsDoNotConsumeQuota(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(NewMemStore().RateLimits(),
		WithRules(map[Action]Rule{
			ActionChat:    {Limit: 2, Window: time.Minute, PerEntity: true},
			ActionGeneral: {Limit: 100, Window: time.Minute},
		}),
		WithLimiterClock(clock.Now),
	)
	ctx := context.Background()

	limiter.Check(ctx, "lobster_1", ActionChat)
	limiter.Check(ctx, "lobster_1", ActionChat)
	for i := 0; i < 10; i++ {
		if d := limiter.Check(ctx, "lobster_1", ActionChat); d.Allowed {
			t.Fatalf("denied window incremented by hammering")
		}
	}

	// A hammered window still resets on schedule.
	clock.Advance(time.Minute)
	if d := limiter.Check(ctx, "lobster_1", ActionChat); !d.Allowed {
		t.Fatalf("window did not reset after elapsing")
	}
}

func TestLimiterWindowReset(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLimiter(NewMemStore().RateLimits(),
		WithRules(map[Action]Rule{
			ActionGeneral: {Limit: 2, Window: time.Minute},
		}),
		WithLimiterClock(clock.Now),
	)
	ctx := context.Background()

	limiter.Check(ctx, "ip", ActionGeneral)
	limiter.Check(ctx, "ip", ActionGeneral)
	if d := limiter.Check(ctx, "ip", ActionGeneral); d.Allowed {
		t.Fatalf("over quota allowed")
	}

	clock.Advance(59 * time.Second)
	if d := limiter.Check(ctx, "ip", ActionGeneral); d.Allowed {
		t.Fatalf("window reset early")
	}
	clock.Advance(time.Second)
	d := limiter.Check(ctx, "ip", ActionGeneral)
	if !d.Allowed {
		t.Fatalf("window did not reset")
	}
	if d.Remaining != 1 {
		t.Fatalf("fresh window remaining = %d", d.Remaining)
	}
}

func TestLimiterUnknownActionFallsBackToGeneral(t *testing.T) {
	limiter := NewLimiter(NewMemStore().RateLimits())
	rule := limiter.Rule(Action("mystery"))
	if rule != DefaultRules[ActionGeneral] {
		t.Fatalf("unknown action rule = %+v", rule)
	}
}

type failingRateLimits struct{}

func (failingRateLimits) Take(context.Context, string, Action, int, time.Duration, time.Time) (*RateLimitWindow, bool, error) {
	return nil, false, errors.New("backend down")
}

func (failingRateLimits) DeleteStale(context.Context, time.Time) (int, error) {
	return 0, errors.New("backend down")
}

func TestLimiterFailsOpen(t *testing.T) {
	limiter := NewLimiter(failingRateLimits{})
	d := limiter.Check(context.Background(), "ip", ActionGeneral)
	if !d.Allowed {
		t.Fatalf("backend failure locked out traffic")
	}
	if !d.FailedOpen {
		t.Fatalf("decision not marked failed-open")
	}
}

func TestMemStoreDeleteStaleWindows(t *testing.T) {
	store := NewMemStore()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if _, _, err := store.RateLimits().Take(ctx, "ip", ActionGeneral, 10, time.Minute, clock.Now()); err != nil {
		t.Fatalf("Take: %v", err)
	}
	clock.Advance(3 * time.Hour)
	if _, _, err := store.RateLimits().Take(ctx, "ip2", ActionGeneral, 10, time.Minute, clock.Now()); err != nil {
		t.Fatalf("Take: %v", err)
	}

	n, err := store.RateLimits().DeleteStale(ctx, clock.Now().Add(-2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteStale = %d, %v", n, err)
	}
}
