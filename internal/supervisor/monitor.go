package supervisor

import (
	"context"
	"time"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/domain"
)

// zombieSweepEvery runs the orphan sweep once per this many health ticks.
const zombieSweepEvery = 6

// Monitor runs the periodic health check loop until ctx is cancelled.
// Each tick probes every enabled server in parallel and restarts crashed
// servers that are not cooling down.
func (s *Supervisor) Monitor(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HealthCheckInterval)
	defer ticker.Stop()

	tick := 0
	s.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping health checks")
			return
		case <-ticker.C:
			tick++
			s.checkAll(ctx)
			if tick%zombieSweepEvery == 0 {
				if _, err := s.CleanupZombies(ctx); err != nil {
					s.logger.Error("zombie sweep failed", "error", err)
				}
			}
		}
	}
}

func (s *Supervisor) checkAll(ctx context.Context) {
	for _, entry := range s.store.ListServers() {
		if !entry.IsEnabled() {
			continue
		}

		// Only servers that have been started are monitored. Stopped and
		// cooling-down servers must not accumulate failures while idle.
		status, err := s.Status(entry.Name)
		if err != nil || status.State == domain.ProcessStateStopped || status.State == domain.ProcessStateCooldown {
			continue
		}

		go func(name string) {
			result := s.CheckHealth(ctx, name)
			if result.Healthy {
				s.logger.Debug("health check ok", "server", name)
				return
			}

			s.logger.Warn("health check failed", "server", name, "detail", result.Detail)

			// Crashed servers get one automatic restart attempt per tick.
			// Cooldown gating happens inside EnsureRunning.
			status, err := s.Status(name)
			if err != nil || status.State != domain.ProcessStateCrashed {
				return
			}
			if res := s.EnsureRunning(ctx, name, false); !res.Success {
				s.logger.Warn("automatic restart failed", "server", name, "message", res.Message)
			}
		}(entry.Name)
	}
}
