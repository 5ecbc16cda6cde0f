// Package pool manages validated protocol sessions to supervised servers.
// It guarantees at most one pooled session per server name, validates
// sessions before reuse and evicts them on classified connection failures.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/classify"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/contracts"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/domain"
)

// backoffFloor is the minimum delay between connection attempts.
const backoffFloor = 100 * time.Millisecond

// ErrNoSession indicates no pooled session exists for the name.
var ErrNoSession = errors.New("no pooled session")

// Pool brokers protocol sessions per server name.
type Pool struct {
	logger hclog.Logger
	store  config.Store
	broker contracts.ProcessBroker
	status contracts.StatusReporter
	dialer contracts.Dialer
	opts   Options

	// mu guards conns and locks. Per-name locks span the full
	// check-and-create sequence so two first-time callers cannot each
	// create a session for the same server.
	mu    sync.Mutex
	conns map[string]*pooledConn
	locks map[string]*sync.Mutex
}

// pooledConn pairs a live session with its creation time and the
// capability list captured at validation.
type pooledConn struct {
	session   contracts.ProtocolSession
	createdAt time.Time
	tools     []domain.Tool
}

// New creates a Pool over the given supervisor surfaces and dialer.
func New(
	logger hclog.Logger,
	store config.Store,
	broker contracts.ProcessBroker,
	status contracts.StatusReporter,
	dialer contracts.Dialer,
	opt ...Option,
) (*Pool, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if store == nil || reflect.ValueOf(store).IsNil() {
		return nil, fmt.Errorf("config store cannot be nil")
	}
	if broker == nil || reflect.ValueOf(broker).IsNil() {
		return nil, fmt.Errorf("process broker cannot be nil")
	}
	if dialer == nil || reflect.ValueOf(dialer).IsNil() {
		return nil, fmt.Errorf("dialer cannot be nil")
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	return &Pool{
		logger: logger.Named("pool"),
		store:  store,
		broker: broker,
		status: status,
		dialer: dialer,
		opts:   opts,
		conns:  make(map[string]*pooledConn),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// nameLock returns the connect lock for name, creating it on first use.
func (p *Pool) nameLock(name string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[name] = lock
	}
	return lock
}

func (p *Pool) conn(name string) (*pooledConn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.conns[name]
	return c, ok
}

func (p *Pool) storeConn(name string, c *pooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[name] = c
}

// evict removes and closes the pooled session for name, if any.
func (p *Pool) evict(name string) {
	p.mu.Lock()
	c, ok := p.conns[name]
	delete(p.conns, name)
	p.mu.Unlock()

	if !ok {
		return
	}
	if err := c.session.Close(); err != nil {
		p.logger.Debug("error closing evicted session", "server", name, "error", err)
	}
	p.logger.Info("session evicted", "server", name)
}

// Get returns a validated session for the named server, creating one if
// needed. The per-name lock spans the whole check-and-create sequence.
func (p *Pool) Get(ctx context.Context, name string) (contracts.ProtocolSession, error) {
	entry, ok := p.store.Server(name)
	if !ok {
		return nil, fmt.Errorf("server not found: %s", name)
	}

	lock := p.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	if c, ok := p.conn(name); ok {
		if p.validate(ctx, name, entry, c) {
			return c.session, nil
		}
		p.evict(name)
	}

	c, err := p.connect(ctx, name, entry)
	if err != nil {
		return nil, err
	}

	p.storeConn(name, c)
	return c.session, nil
}

// validate runs the two stage check on an existing session: structural
// presence, then a bounded functional capability listing. A functional
// timeout on a structurally valid session is a soft pass so slow but
// alive servers are not discarded.
func (p *Pool) validate(ctx context.Context, name string, entry config.ServerEntry, c *pooledConn) bool {
	if c == nil || c.session == nil {
		return false
	}

	listCtx, cancel := context.WithTimeout(ctx, entry.TimeoutFor(config.OperationValidation))
	defer cancel()

	tools, err := c.session.ListTools(listCtx)
	if err == nil {
		p.setTools(name, tools)
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		p.logger.Warn("session validation timed out, keeping session", "server", name)
		return true
	}

	p.logger.Warn("session failed validation", "server", name, "error", err)
	return false
}

// connect walks the establishment ladder: attempt 0 attaches to whatever
// is already running, attempt 1 clears orphaned processes first, attempt
// 2 resets failure counters, attempts beyond that force a full restart.
func (p *Pool) connect(ctx context.Context, name string, entry config.ServerEntry) (*pooledConn, error) {
	var lastErr error

	for attempt := 0; attempt < p.opts.ConnectAttempts; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.delay(attempt-1)); err != nil {
				return nil, err
			}
		}

		if err := p.recover(ctx, name, attempt); err != nil {
			lastErr = err
			continue
		}

		res := p.broker.EnsureRunning(ctx, name, false)
		if !res.Success {
			if res.Error != nil && !res.Error.Retryable {
				return nil, fmt.Errorf("cannot start server %s: %s", name, res.Error.UserMessage)
			}
			lastErr = fmt.Errorf("server %s not running: %s", name, res.Message)
			continue
		}

		stdin, stdout, ok := p.broker.ProcessIO(name)
		if !ok {
			lastErr = fmt.Errorf("no process io for server %s", name)
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, entry.TimeoutFor(config.OperationConnection))
		session, err := p.dialer.Dial(dialCtx, name, stdin, stdout)
		cancel()
		if err != nil {
			lastErr = err
			p.logger.Warn("failed to establish session", "server", name, "attempt", attempt, "error", err)
			continue
		}

		c := &pooledConn{session: session, createdAt: time.Now()}
		p.warmup(ctx, entry, c)

		p.logger.Info("session established", "server", name, "attempt", attempt)
		return c, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("failed to connect to server %s", name)
	}
	return nil, lastErr
}

// recover applies the per-attempt recovery step before connecting.
func (p *Pool) recover(ctx context.Context, name string, attempt int) error {
	switch attempt {
	case 0:
		return nil
	case 1:
		if _, err := p.broker.CleanupZombies(ctx); err != nil {
			p.logger.Warn("zombie sweep failed during recovery", "server", name, "error", err)
		}
		return nil
	case 2:
		return p.broker.ResetFailures(name)
	default:
		return p.broker.Restart(ctx, name)
	}
}

// warmup captures the capability list for the fresh session. A timeout
// here is tolerated, discovery happens lazily on first use instead.
func (p *Pool) warmup(ctx context.Context, entry config.ServerEntry, c *pooledConn) {
	warmCtx, cancel := context.WithTimeout(ctx, entry.TimeoutFor(config.OperationWarmup))
	defer cancel()

	tools, err := c.session.ListTools(warmCtx)
	if err != nil {
		p.logger.Debug("warmup capability listing failed", "error", err)
		return
	}
	c.tools = tools
}

// delay computes min(base*factor^i, cap) with symmetric jitter, floored.
func (p *Pool) delay(i int) time.Duration {
	d := time.Duration(float64(p.opts.BackoffBase) * math.Pow(p.opts.BackoffFactor, float64(i)))
	if d > p.opts.BackoffCap {
		d = p.opts.BackoffCap
	}

	// Jitter of +/-25%.
	jitter := 1 + (p.opts.Rand()*2-1)*0.25
	d = time.Duration(float64(d) * jitter)
	if d < backoffFloor {
		d = backoffFloor
	}
	return d
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PingServer pings the existing pooled session for name. It never
// creates a session, which makes it safe as the supervisor's protocol
// level health probe.
func (p *Pool) PingServer(ctx context.Context, name string) error {
	c, ok := p.conn(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	return c.session.Ping(ctx)
}

// HealthCounts summarizes one pooled session health sweep.
type HealthCounts struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
	Evicted int `json:"evicted"`
}

// HealthReport pings every pooled session, evicting any found unhealthy,
// and returns the counts.
func (p *Pool) HealthReport(ctx context.Context) HealthCounts {
	p.mu.Lock()
	names := make([]string, 0, len(p.conns))
	for name := range p.conns {
		names = append(names, name)
	}
	p.mu.Unlock()

	counts := HealthCounts{Total: len(names)}
	for _, name := range names {
		c, ok := p.conn(name)
		if !ok {
			continue
		}

		timeout := config.DefaultPingTimeout
		if entry, ok := p.store.Server(name); ok {
			timeout = entry.TimeoutFor(config.OperationPing)
		}

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.session.Ping(pingCtx)
		cancel()

		if err != nil {
			p.logger.Warn("pooled session unhealthy", "server", name, "error", err)
			p.evict(name)
			counts.Evicted++
			continue
		}
		counts.Healthy++
	}

	return counts
}

// Refresh drops every pooled session and reconnects only to servers the
// supervisor currently reports healthy. Health is judged before the drop:
// the supervisor's probe may ping through this pool's live sessions, so
// probing after CloseAll would report every server unhealthy.
func (p *Pool) Refresh(ctx context.Context) {
	var healthy []string
	if p.status != nil && !reflect.ValueOf(p.status).IsNil() {
		for _, entry := range p.store.ListServers() {
			if !entry.IsEnabled() {
				continue
			}
			if p.status.CheckHealth(ctx, entry.Name).Healthy {
				healthy = append(healthy, entry.Name)
			}
		}
	}

	p.CloseAll()

	for _, name := range healthy {
		if _, err := p.Get(ctx, name); err != nil {
			p.logger.Warn("failed to reconnect during refresh", "server", name, "error", err)
		}
	}
}

// CloseAll drains and closes every pooled session.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*pooledConn)
	p.mu.Unlock()

	for name, c := range conns {
		if err := c.session.Close(); err != nil {
			p.logger.Debug("error closing session", "server", name, "error", err)
		}
	}
}

// setTools records the capability list for name's pooled session.
func (p *Pool) setTools(name string, tools []domain.Tool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[name]; ok {
		c.tools = tools
	}
}

func (p *Pool) cachedTools(name string) []domain.Tool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[name]; ok {
		return c.tools
	}
	return nil
}

// toolsFor returns the cached capability list for name, fetching it from
// the session when the cache is empty.
func (p *Pool) toolsFor(ctx context.Context, name string, entry config.ServerEntry, session contracts.ProtocolSession) ([]domain.Tool, error) {
	if tools := p.cachedTools(name); len(tools) > 0 {
		return tools, nil
	}

	listCtx, cancel := context.WithTimeout(ctx, entry.TimeoutFor(config.OperationValidation))
	defer cancel()

	tools, err := session.ListTools(listCtx)
	if err != nil {
		return nil, err
	}

	p.setTools(name, tools)
	return tools, nil
}

// classifyAndMaybeEvict translates an error into its classification and
// applies the eviction rule: connection class failures drop the pooled
// session so the next call reconnects, everything else keeps it.
func (p *Pool) classifyAndMaybeEvict(name string, err error) classify.Classification {
	c := classify.ClassifyError(err)
	if classify.IsConnectionClass(c.Kind) {
		p.evict(name)
	}
	return c
}
