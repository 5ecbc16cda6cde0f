package contracts

import (
	"context"
	"io"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/domain"
)

// ProtocolSession is a live channel to a tool execution server. The core
// depends only on this contract, never on the wire format behind it.
type ProtocolSession interface {
	// Ping checks that the remote end is responsive.
	Ping(ctx context.Context) error

	// ListTools returns the capabilities the server currently exposes.
	ListTools(ctx context.Context) ([]domain.Tool, error)

	// CallTool invokes a named tool and returns the normalized payload.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)

	// Close releases the session. Safe to call more than once.
	Close() error
}

// Dialer establishes a protocol session over the stdio pipes of an
// already running supervised process.
type Dialer interface {
	Dial(ctx context.Context, name string, stdin io.WriteCloser, stdout io.Reader) (ProtocolSession, error)
}

// SessionSource hands out validated pooled sessions. A server's pipes
// carry at most one session, so consumers borrow through this contract
// instead of dialing the pipes themselves.
type SessionSource interface {
	Get(ctx context.Context, name string) (ProtocolSession, error)
}

// ProcessBroker is the supervisor surface the connection pool depends on.
type ProcessBroker interface {
	// EnsureRunning guarantees a process exists for the named server,
	// or reports recorded state only when connectOnly is set.
	EnsureRunning(ctx context.Context, name string, connectOnly bool) domain.EnsureResult

	// Restart performs a graceful then forced stop followed by a start.
	Restart(ctx context.Context, name string) error

	// ResetFailures administratively clears failure and blacklist state.
	ResetFailures(name string) error

	// CleanupZombies terminates launch-pattern matching processes that
	// no status record tracks. Returns the number reaped.
	CleanupZombies(ctx context.Context) (int, error)

	// ProcessIO hands out the stdio pipes of the live process so a
	// session can be attached to it. The boolean reports whether a live
	// process exists for the name.
	ProcessIO(name string) (io.WriteCloser, io.Reader, bool)
}

// StatusReporter exposes read-only status snapshots.
type StatusReporter interface {
	// Status returns a snapshot for a single server.
	Status(name string) (domain.ServerStatus, error)

	// Statuses returns snapshots for every configured server.
	Statuses() []domain.ServerStatus

	// CheckHealth runs a liveness probe and returns the result.
	CheckHealth(ctx context.Context, name string) domain.HealthResult
}
