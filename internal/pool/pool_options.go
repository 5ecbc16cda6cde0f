package pool

import (
	"fmt"
	"math/rand"
	"time"
)

// Options contains optional configuration for the connection pool.
// NewOptions should be used to create instances of Options.
type Options struct {
	// CallTimeout is the hard ceiling on one remote tool call. It is
	// independent of and larger than the connection level timeouts.
	CallTimeout time.Duration

	// ConnectAttempts bounds the connection establishment ladder.
	ConnectAttempts int

	// InvokeAttempts bounds retries of a retryable failed tool call.
	InvokeAttempts int

	// BackoffBase, BackoffFactor and BackoffCap shape the delay between
	// connection attempts: min(base*factor^i, cap) plus symmetric jitter.
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffCap    time.Duration

	// Rand supplies jitter randomness. Replaceable for tests.
	Rand func() float64
}

// Option defines a functional option for configuring Options.
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

// WithCallTimeout configures the hard tool call ceiling.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("call timeout must be positive, got %v", d)
		}
		o.CallTimeout = d
		return nil
	}
}

// WithConnectAttempts configures the connection ladder length.
func WithConnectAttempts(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("connect attempts must be positive, got %d", n)
		}
		o.ConnectAttempts = n
		return nil
	}
}

// WithInvokeAttempts configures the tool call retry budget.
func WithInvokeAttempts(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("invoke attempts must be positive, got %d", n)
		}
		o.InvokeAttempts = n
		return nil
	}
}

// WithBackoff configures the connection retry delay curve.
func WithBackoff(base time.Duration, factor float64, cap time.Duration) Option {
	return func(o *Options) error {
		if base <= 0 || factor < 1 || cap < base {
			return fmt.Errorf("invalid backoff: base %v, factor %v, cap %v", base, factor, cap)
		}
		o.BackoffBase = base
		o.BackoffFactor = factor
		o.BackoffCap = cap
		return nil
	}
}

// WithRand replaces the jitter randomness source, primarily for tests.
func WithRand(r func() float64) Option {
	return func(o *Options) error {
		if r == nil {
			return fmt.Errorf("rand cannot be nil")
		}
		o.Rand = r
		return nil
	}
}

// DefaultCallTimeout is the default hard ceiling on one tool call.
func DefaultCallTimeout() time.Duration {
	return 120 * time.Second
}

// DefaultConnectAttempts is the default connection ladder length.
func DefaultConnectAttempts() int {
	return 4
}

// DefaultInvokeAttempts is the default tool call retry budget.
func DefaultInvokeAttempts() int {
	return 2
}

// DefaultBackoffBase is the first connection retry delay.
func DefaultBackoffBase() time.Duration {
	return time.Second
}

// DefaultBackoffFactor is the connection retry delay multiplier.
func DefaultBackoffFactor() float64 {
	return 2.0
}

// DefaultBackoffCap caps the connection retry delay.
func DefaultBackoffCap() time.Duration {
	return 30 * time.Second
}

func defaultOptions() Options {
	return Options{
		CallTimeout:     DefaultCallTimeout(),
		ConnectAttempts: DefaultConnectAttempts(),
		InvokeAttempts:  DefaultInvokeAttempts(),
		BackoffBase:     DefaultBackoffBase(),
		BackoffFactor:   DefaultBackoffFactor(),
		BackoffCap:      DefaultBackoffCap(),
		Rand:            rand.Float64,
	}
}
