package supervisor

import (
	"fmt"
	"time"
)

// Options contains optional configuration for the supervisor.
// NewOptions should be used to create instances of Options.
type Options struct {
	// MaxRestarts is the number of restarts tolerated inside RestartWindow
	// before the server is placed in cooldown.
	MaxRestarts int

	// RestartWindow is the sliding window over which restarts are counted.
	RestartWindow time.Duration

	// CooldownBase is the first cooldown duration. Repeated offenses double
	// it up to CooldownMax.
	CooldownBase time.Duration

	// CooldownMax caps the exponentially growing cooldown duration.
	CooldownMax time.Duration

	// MaxConsecutiveFailures is the number of failed health checks tolerated
	// before the server is blacklisted.
	MaxConsecutiveFailures int

	// StartAttempts bounds spawn attempts per start request. Only
	// retryable spawn failures are retried.
	StartAttempts int

	// StartBackoffBase is the delay before the first spawn retry. Each
	// further retry doubles it, with symmetric jitter.
	StartBackoffBase time.Duration

	// GracefulStopTimeout is how long a stopped process gets to exit after
	// SIGTERM before it is killed.
	GracefulStopTimeout time.Duration

	// HealthCheckInterval is how often the monitor loop probes each server.
	HealthCheckInterval time.Duration

	// Clock supplies the current time. Replaceable for tests.
	Clock func() time.Time
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
func NewOptions(opts ...Option) (Options, error) {
	options := defaultOptions()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}

	return options, nil
}

// WithMaxRestarts configures the restart budget inside the restart window.
func WithMaxRestarts(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("max restarts must be positive, got %d", n)
		}
		o.MaxRestarts = n
		return nil
	}
}

// WithRestartWindow configures the sliding window over which restarts count.
func WithRestartWindow(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("restart window must be positive, got %v", d)
		}
		o.RestartWindow = d
		return nil
	}
}

// WithCooldown configures the base and maximum cooldown durations.
func WithCooldown(base, maximum time.Duration) Option {
	return func(o *Options) error {
		if base <= 0 || maximum < base {
			return fmt.Errorf("invalid cooldown bounds: base %v, max %v", base, maximum)
		}
		o.CooldownBase = base
		o.CooldownMax = maximum
		return nil
	}
}

// WithMaxConsecutiveFailures configures the health check failure budget.
func WithMaxConsecutiveFailures(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("max consecutive failures must be positive, got %d", n)
		}
		o.MaxConsecutiveFailures = n
		return nil
	}
}

// WithStartAttempts configures the spawn retry bound per start request.
func WithStartAttempts(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("start attempts must be positive, got %d", n)
		}
		o.StartAttempts = n
		return nil
	}
}

// WithStartBackoff configures the delay before the first spawn retry.
func WithStartBackoff(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("start backoff must be positive, got %v", d)
		}
		o.StartBackoffBase = d
		return nil
	}
}

// WithGracefulStopTimeout configures how long a process gets to exit cleanly.
func WithGracefulStopTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("graceful stop timeout must be positive, got %v", d)
		}
		o.GracefulStopTimeout = d
		return nil
	}
}

// WithHealthCheckInterval configures how often the monitor loop runs.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("health check interval must be positive, got %v", d)
		}
		o.HealthCheckInterval = d
		return nil
	}
}

// WithClock replaces the time source, primarily for cooldown tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		o.Clock = clock
		return nil
	}
}

// DefaultMaxRestarts is the default restart budget per window.
func DefaultMaxRestarts() int {
	return 3
}

// DefaultRestartWindow is the default restart counting window.
func DefaultRestartWindow() time.Duration {
	return 5 * time.Minute
}

// DefaultCooldownBase is the first cooldown duration after the budget is spent.
func DefaultCooldownBase() time.Duration {
	return 30 * time.Second
}

// DefaultCooldownMax caps the growing cooldown duration.
func DefaultCooldownMax() time.Duration {
	return 10 * time.Minute
}

// DefaultMaxConsecutiveFailures is the default health check failure budget.
func DefaultMaxConsecutiveFailures() int {
	return 3
}

// DefaultStartAttempts is the default spawn retry bound per start request.
func DefaultStartAttempts() int {
	return 3
}

// DefaultStartBackoffBase is the default delay before the first spawn retry.
func DefaultStartBackoffBase() time.Duration {
	return 500 * time.Millisecond
}

// DefaultGracefulStopTimeout is the default SIGTERM grace period.
func DefaultGracefulStopTimeout() time.Duration {
	return 5 * time.Second
}

// DefaultHealthCheckInterval is the default monitor loop interval.
func DefaultHealthCheckInterval() time.Duration {
	return 10 * time.Second
}

func defaultOptions() Options {
	return Options{
		MaxRestarts:            DefaultMaxRestarts(),
		RestartWindow:          DefaultRestartWindow(),
		CooldownBase:           DefaultCooldownBase(),
		CooldownMax:            DefaultCooldownMax(),
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures(),
		StartAttempts:          DefaultStartAttempts(),
		StartBackoffBase:       DefaultStartBackoffBase(),
		GracefulStopTimeout:    DefaultGracefulStopTimeout(),
		HealthCheckInterval:    DefaultHealthCheckInterval(),
		Clock:                  time.Now,
	}
}
