package identity

import (
	"context"
	"fmt"
	"time"

	"openbot.social/internal/obs"
)

const (
	challengeSweepInterval = time.Minute
	sessionSweepInterval   = 5 * time.Minute

	// Windows are purged once older than the largest configured window plus
	// a safety margin; a live window is never older than an hour.
	rateWindowRetention = 2 * time.Hour
)

// StartSweepers launches the background expiry sweeps and returns a stop
// function. Challenges are swept every minute; sessions and stale rate-limit
// windows every five minutes. Both stores express expiry as an atomic
// delete, so sweeps are safe against concurrent in-flight requests.
func (s *Service) StartSweepers(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go sweepLoop(ctx, challengeSweepInterval, func() {
		if _, err := s.SweepChallenges(ctx); err != nil {
			logSweepError("challenges", err)
		}
	})
	go sweepLoop(ctx, sessionSweepInterval, func() {
		if _, err := s.SweepSessions(ctx); err != nil {
			logSweepError("sessions", err)
		}
		cutoff := s.now().UTC().Add(-rateWindowRetention)
		if _, err := s.store.RateLimits().DeleteStale(ctx, cutoff); err != nil {
			logSweepError("rate_limit_windows", err)
		}
	})

	return cancel
}

func sweepLoop(ctx context.Context, interval time.Duration, sweep func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func logSweepError(target string, err error) {
	obs.LogRequest(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "error",
		"msg":   fmt.Sprintf("sweep %s failed", target),
		"error": err.Error(),
	})
}
