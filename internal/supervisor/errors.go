package supervisor

import "errors"

var (
	// ErrServerNotFound indicates the named server has no configuration entry.
	ErrServerNotFound = errors.New("server not found")

	// ErrServerNotRunning indicates a connect-only request found no live process.
	ErrServerNotRunning = errors.New("server not running")

	// ErrServerCooldown indicates restart attempts are suppressed until the
	// cooldown deadline passes.
	ErrServerCooldown = errors.New("server is cooling down")

	// ErrServerDisabled indicates the server is disabled in configuration.
	ErrServerDisabled = errors.New("server is disabled")
)
