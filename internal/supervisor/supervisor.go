// Package supervisor owns the lifecycle of the configured tool execution
// server processes: start, stop, restart, health checks, restart budgets
// and cooldown. It holds exactly one mutable status record per configured
// server and serializes lifecycle operations per name, never globally.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/classify"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/domain"
)

const maxStartLatencySamples = 20

// Supervisor starts, monitors and restarts the configured server processes.
type Supervisor struct {
	logger hclog.Logger
	store  config.Store
	opts   Options

	// mu guards the shape of records. Per-record locks guard lifecycle
	// state so unrelated servers proceed in parallel.
	mu      sync.RWMutex
	records map[string]*serverRecord

	pingMu sync.RWMutex
	ping   func(ctx context.Context, name string) error
}

type serverRecord struct {
	mu       sync.Mutex
	entry    config.ServerEntry
	status   domain.ServerStatus
	proc     *managedProcess
	restarts []time.Time
	offenses int
}

// New creates a Supervisor with one status record per configured server.
func New(logger hclog.Logger, store config.Store, opt ...Option) (*Supervisor, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if store == nil || reflect.ValueOf(store).IsNil() {
		return nil, fmt.Errorf("config store cannot be nil")
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	records := make(map[string]*serverRecord, len(store.ListServers()))
	for _, entry := range store.ListServers() {
		records[entry.Name] = &serverRecord{
			entry: entry,
			status: domain.ServerStatus{
				Name:    entry.Name,
				Enabled: entry.IsEnabled(),
				State:   domain.ProcessStateStopped,
			},
		}
	}

	return &Supervisor{
		logger:  logger.Named("supervisor"),
		store:   store,
		opts:    opts,
		records: records,
	}, nil
}

func (s *Supervisor) now() time.Time {
	return s.opts.Clock()
}

func (s *Supervisor) record(name string) (*serverRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	return rec, ok
}

// SetPinger installs an optional protocol-level ping used by health checks.
// The callback must not call back into the supervisor.
func (s *Supervisor) SetPinger(ping func(ctx context.Context, name string) error) {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()
	s.ping = ping
}

func (s *Supervisor) pinger() func(ctx context.Context, name string) error {
	s.pingMu.RLock()
	defer s.pingMu.RUnlock()
	return s.ping
}

// EnsureRunning guarantees a process exists for the named server.
// When connectOnly is set it reports the recorded state only and never
// starts, probes or mutates anything.
func (s *Supervisor) EnsureRunning(ctx context.Context, name string, connectOnly bool) domain.EnsureResult {
	rec, ok := s.record(name)
	if !ok {
		return failedResult(classify.KindServerNotFound, fmt.Sprintf("server not found: %s", name))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if connectOnly {
		if rec.status.Running {
			return domain.EnsureResult{
				Success: true,
				Running: true,
				PID:     rec.status.PID,
				Message: "server already running",
			}
		}
		res := failedResult(classify.KindServerUnavailable, fmt.Sprintf("%s: %s", ErrServerNotRunning, name))
		res.PID = rec.status.PID
		return res
	}

	if !rec.entry.IsEnabled() {
		return failedResult(classify.KindServerUnavailable, fmt.Sprintf("%s: %s", ErrServerDisabled, name))
	}

	if rec.status.Running {
		if rec.procAlive() {
			return domain.EnsureResult{
				Success: true,
				Running: true,
				PID:     rec.status.PID,
				Message: "server already running",
			}
		}
		// Recorded running but the process is gone; the waiter has not
		// caught up yet. Treat it as crashed.
		rec.status.Running = false
		rec.status.State = domain.ProcessStateCrashed
	}

	if until := rec.status.CooldownUntil; until != nil {
		if s.now().Before(*until) {
			return failedResult(
				classify.KindServerUnavailable,
				fmt.Sprintf("%s: %s until %s", ErrServerCooldown, name, until.Format(time.RFC3339)),
			)
		}
		// Cooldown expired, allow a fresh start.
		rec.status.CooldownUntil = nil
		rec.status.Blacklisted = false
	}

	return s.startLocked(ctx, rec)
}

// startLocked spawns the process for rec. Callers hold rec.mu.
// Success means the spawn succeeded; the process may still exit at any
// moment afterwards, which the waiter records asynchronously.
func (s *Supervisor) startLocked(ctx context.Context, rec *serverRecord) domain.EnsureResult {
	wasCrashed := rec.status.State == domain.ProcessStateCrashed

	env, err := rec.entry.Environ()
	if err != nil {
		// Missing required env is fatal, never retried.
		rec.status.LastError = err.Error()
		return failedResult(classify.KindConfigMissingRequired, err.Error())
	}

	rec.status.State = domain.ProcessStateStarting
	began := time.Now()

	proc, err := s.launchWithRetry(ctx, rec.entry, env)
	if err != nil {
		rec.status.State = domain.ProcessStateCrashed
		rec.status.Running = false
		rec.status.LastError = err.Error()
		rec.status.ConsecutiveFailures++
		if rec.status.ConsecutiveFailures >= s.opts.MaxConsecutiveFailures && !rec.status.Blacklisted {
			s.enterCooldownLocked(rec)
		}
		kind := classifyStartError(err)
		s.logger.Error("failed to start server", "server", rec.entry.Name, "error", err)
		return failedResult(kind, err.Error())
	}

	now := s.now()
	rec.proc = proc
	rec.status.State = domain.ProcessStateRunning
	rec.status.Running = true
	rec.status.PID = proc.pid()
	rec.status.StartedAt = &now
	rec.status.LastError = ""
	rec.status.ConsecutiveFailures = 0
	rec.status.StartLatencies = appendSample(rec.status.StartLatencies, domain.DurationSpan(time.Since(began)))
	if wasCrashed {
		rec.status.RestartCount++
	}

	s.logger.Info("server started", "server", rec.entry.Name, "pid", rec.status.PID)

	go s.waitOn(rec, proc)

	return domain.EnsureResult{
		Success: true,
		Running: true,
		PID:     rec.status.PID,
		Message: "server started",
	}
}

// launchWithRetry spawns the entry's process, retrying retryable spawn
// failures with doubling, jittered delays up to the attempt bound.
// Fatal failures (permission denied) surface immediately.
func (s *Supervisor) launchWithRetry(ctx context.Context, entry config.ServerEntry, env []string) (*managedProcess, error) {
	var lastErr error

	for attempt := 0; attempt < s.opts.StartAttempts; attempt++ {
		if attempt > 0 {
			d := s.opts.StartBackoffBase << (attempt - 1)
			d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*0.25))

			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		proc, err := launch(entry, env, s.logger.With("server", entry.Name))
		if err == nil {
			return proc, nil
		}

		lastErr = err
		if !classify.Retryable(classifyStartError(err)) {
			return nil, err
		}
		s.logger.Warn("spawn failed, retrying", "server", entry.Name, "attempt", attempt, "error", err)
	}

	return nil, lastErr
}

// waitOn records process exit on the status record, unless the process
// was already replaced or the exit was operator requested.
func (s *Supervisor) waitOn(rec *serverRecord, proc *managedProcess) {
	err := proc.wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.proc != proc {
		return
	}

	rec.status.Running = false
	if proc.stopRequested() {
		rec.status.State = domain.ProcessStateStopped
		s.logger.Info("server stopped", "server", rec.entry.Name)
		return
	}

	rec.status.State = domain.ProcessStateCrashed
	if err != nil {
		rec.status.LastError = fmt.Sprintf("process terminated: %s", err)
	} else {
		rec.status.LastError = "process terminated: exited cleanly"
	}
	s.logger.Warn("server process exited", "server", rec.entry.Name, "error", err)
}

// Restart performs a graceful then forced stop followed by a start.
// Restarts beyond the budget inside the restart window place the server
// in an exponentially growing cooldown.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	rec, ok := s.record(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := s.now()
	if until := rec.status.CooldownUntil; until != nil && now.Before(*until) {
		return fmt.Errorf("%w: %s until %s", ErrServerCooldown, name, until.Format(time.RFC3339))
	}

	rec.pruneRestarts(now, s.opts.RestartWindow)
	if len(rec.restarts) >= s.opts.MaxRestarts {
		// The budget is spent and the caller considers the current
		// process bad, so it does not get to keep running.
		s.stopLocked(rec)
		s.enterCooldownLocked(rec)
		return fmt.Errorf("%w: %s until %s", ErrServerCooldown, name, rec.status.CooldownUntil.Format(time.RFC3339))
	}
	rec.restarts = append(rec.restarts, now)

	s.stopLocked(rec)

	rec.status.State = domain.ProcessStateCrashed // force restart accounting in startLocked
	res := s.startLocked(ctx, rec)
	if !res.Success {
		if res.Error != nil {
			return fmt.Errorf("failed to restart %s: %s", name, res.Error.UserMessage)
		}
		return fmt.Errorf("failed to restart %s", name)
	}

	return nil
}

// Stop terminates the named server's process if one is running.
func (s *Supervisor) Stop(_ context.Context, name string) error {
	rec, ok := s.record(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	s.stopLocked(rec)
	return nil
}

// stopLocked stops rec's process, SIGTERM first, SIGKILL after the grace
// period. Callers hold rec.mu.
func (s *Supervisor) stopLocked(rec *serverRecord) {
	proc := rec.proc
	if proc == nil || !rec.procAlive() {
		rec.proc = nil
		rec.status.Running = false
		if rec.status.State != domain.ProcessStateCooldown {
			rec.status.State = domain.ProcessStateStopped
		}
		return
	}

	proc.terminate(s.opts.GracefulStopTimeout, s.logger.With("server", rec.entry.Name))

	rec.proc = nil
	rec.status.Running = false
	if rec.status.State != domain.ProcessStateCooldown {
		rec.status.State = domain.ProcessStateStopped
	}
}

// CheckHealth probes OS level liveness and, when a protocol pinger is
// installed, the session as well. Failures beyond the budget blacklist
// the server.
func (s *Supervisor) CheckHealth(ctx context.Context, name string) domain.HealthResult {
	rec, ok := s.record(name)
	if !ok {
		return domain.HealthResult{Healthy: false, Detail: fmt.Sprintf("server not found: %s", name), CheckedAt: s.now()}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	result := domain.HealthResult{CheckedAt: s.now()}

	switch {
	case !rec.status.Running || rec.proc == nil:
		result.Detail = "process not running"
	case !rec.procAlive():
		result.Detail = "process died"
	default:
		result.Healthy = true
		result.Detail = "process alive"
	}

	if result.Healthy {
		if ping := s.pinger(); ping != nil {
			pingCtx, cancel := context.WithTimeout(ctx, rec.entry.TimeoutFor(config.OperationPing))
			began := time.Now()
			err := ping(pingCtx, name)
			cancel()
			if err != nil {
				result.Healthy = false
				result.Detail = fmt.Sprintf("ping failed: %s", err)
			} else {
				latency := time.Since(began)
				result.Latency = &latency
			}
		}
	}

	if result.Healthy {
		rec.status.ConsecutiveFailures = 0
	} else {
		rec.status.ConsecutiveFailures++
		if rec.status.ConsecutiveFailures >= s.opts.MaxConsecutiveFailures && !rec.status.Blacklisted {
			s.enterCooldownLocked(rec)
		}
	}
	rec.status.LastHealth = &result

	return result
}

// ResetFailures administratively clears failure, blacklist and cooldown
// state for the named server.
func (s *Supervisor) ResetFailures(name string) error {
	rec, ok := s.record(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.status.ConsecutiveFailures = 0
	rec.status.Blacklisted = false
	rec.status.CooldownUntil = nil
	rec.status.LastError = ""
	rec.restarts = nil
	rec.offenses = 0
	if rec.status.State == domain.ProcessStateCooldown {
		rec.status.State = domain.ProcessStateStopped
	}

	s.logger.Info("failure state reset", "server", name)
	return nil
}

// enterCooldownLocked blacklists rec for an exponentially growing
// duration per repeated offense. Callers hold rec.mu.
func (s *Supervisor) enterCooldownLocked(rec *serverRecord) {
	rec.offenses++

	d := s.opts.CooldownBase
	for i := 1; i < rec.offenses; i++ {
		d *= 2
		if d >= s.opts.CooldownMax {
			d = s.opts.CooldownMax
			break
		}
	}

	until := s.now().Add(d)
	rec.status.Blacklisted = true
	rec.status.State = domain.ProcessStateCooldown
	rec.status.CooldownUntil = &until
	rec.restarts = nil

	s.logger.Warn("server placed in cooldown",
		"server", rec.entry.Name,
		"until", until.Format(time.RFC3339),
		"offense", rec.offenses,
	)
}

// Status returns a snapshot of the named server's status record.
func (s *Supervisor) Status(name string) (domain.ServerStatus, error) {
	rec, ok := s.record(name)
	if !ok {
		return domain.ServerStatus{}, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.snapshotLocked(), nil
}

// Statuses returns snapshots for every configured server, sorted by name.
func (s *Supervisor) Statuses() []domain.ServerStatus {
	s.mu.RLock()
	records := make([]*serverRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	statuses := make([]domain.ServerStatus, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		statuses = append(statuses, rec.snapshotLocked())
		rec.mu.Unlock()
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})

	return statuses
}

// ProcessIO hands out the stdio pipes of the live process for the name
// so a protocol session can be attached to it. The returned writer's
// Close is a no-op; only the supervisor closes the real pipe.
func (s *Supervisor) ProcessIO(name string) (io.WriteCloser, io.Reader, bool) {
	rec, ok := s.record(name)
	if !ok {
		return nil, nil, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.proc == nil || !rec.procAlive() {
		return nil, nil, false
	}
	return keepOpenWriter{rec.proc.stdin}, rec.proc.stdout, true
}

// StartAll starts every enabled configured server in parallel.
func (s *Supervisor) StartAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, entry := range s.store.ListServers() {
		if !entry.IsEnabled() {
			continue
		}
		g.Go(func() error {
			res := s.EnsureRunning(ctx, entry.Name, false)
			if !res.Success {
				if res.Error != nil {
					return fmt.Errorf("failed to start %s: %s", entry.Name, res.Error.UserMessage)
				}
				return fmt.Errorf("failed to start %s", entry.Name)
			}
			return nil
		})
	}

	return g.Wait()
}

// StopAll stops every server process. Used on shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	for _, name := range s.store.ServerNames() {
		if err := s.Stop(ctx, name); err != nil {
			s.logger.Error("failed to stop server", "server", name, "error", err)
		}
	}
}

func (r *serverRecord) snapshotLocked() domain.ServerStatus {
	status := r.status
	if status.StartedAt != nil {
		t := *status.StartedAt
		status.StartedAt = &t
	}
	if status.CooldownUntil != nil {
		t := *status.CooldownUntil
		status.CooldownUntil = &t
	}
	if status.LastHealth != nil {
		h := *status.LastHealth
		status.LastHealth = &h
	}
	status.StartLatencies = append([]domain.DurationSpan(nil), status.StartLatencies...)
	return status
}

func (r *serverRecord) procAlive() bool {
	if r.proc == nil {
		return false
	}
	return r.proc.alive()
}

func (r *serverRecord) pruneRestarts(now time.Time, window time.Duration) {
	kept := r.restarts[:0]
	for _, t := range r.restarts {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	r.restarts = kept
}

func failedResult(kind classify.Kind, message string) domain.EnsureResult {
	c := classify.New(kind, message)
	return domain.EnsureResult{
		Success: false,
		Message: message,
		Error:   &c,
	}
}

func appendSample(samples []domain.DurationSpan, sample domain.DurationSpan) []domain.DurationSpan {
	samples = append(samples, sample)
	if len(samples) > maxStartLatencySamples {
		samples = samples[len(samples)-maxStartLatencySamples:]
	}
	return samples
}
