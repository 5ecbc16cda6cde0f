package config

import (
	"time"
)

var (
	_ Provider = (*DefaultLoader)(nil)
	_ Store    = (*Config)(nil)
)

type Loader interface {
	Load(path string) (Store, error)
}

type Initializer interface {
	Init(path string) error
}

type Provider interface {
	Initializer
	Loader
}

// Store is the read-only view of the loaded server definitions.
// The mapping is immutable once loaded.
type Store interface {
	Server(name string) (ServerEntry, bool)
	ListServers() []ServerEntry
	ServerNames() []string
}

type DefaultLoader struct{}

// Config represents the .echomcp.toml (or .yaml) file structure.
type Config struct {
	Servers        []ServerEntry `toml:"servers" yaml:"servers"`
	configFilePath string
}

// Operation identifies the timeout class being resolved for a server.
type Operation string

const (
	OperationPing       Operation = "ping"
	OperationWarmup     Operation = "warmup"
	OperationValidation Operation = "validation"
	OperationConnection Operation = "connection"
	OperationDefault    Operation = "default"
)

// Default timeouts applied when a server entry carries no override.
const (
	DefaultPingTimeout       = 10 * time.Second
	DefaultWarmupTimeout     = 10 * time.Second
	DefaultValidationTimeout = 10 * time.Second
	DefaultConnectionTimeout = 15 * time.Second
	DefaultOperationTimeout  = 10 * time.Second
)

// ServerEntry represents the launch definition of a single MCP server.
type ServerEntry struct {
	// Name is the unique name referenced by callers. e.g. 'amap-maps'
	Name string `json:"name" toml:"name" yaml:"name"`

	// Command is the executable used to launch the server process.
	Command string `json:"command" toml:"command" yaml:"command"`

	// Args are passed verbatim to the command.
	Args []string `json:"args,omitempty" toml:"args,omitempty" yaml:"args,omitempty"`

	// Env holds environment variable values supplied to the process.
	Env map[string]string `json:"env,omitempty" toml:"env,omitempty" yaml:"env,omitempty"`

	// RequiredEnv lists environment variables that must be present
	// (either here or in the ambient process environment) for launch.
	RequiredEnv []string `json:"requiredEnv,omitempty" toml:"required_env,omitempty" yaml:"required_env,omitempty"`

	// Enabled controls whether the supervisor manages this server.
	// Defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`

	Description string `json:"description,omitempty" toml:"description,omitempty" yaml:"description,omitempty"`

	// Timeouts carries per-operation overrides; zero values fall back to package defaults.
	Timeouts TimeoutConfig `json:"timeouts,omitempty" toml:"timeouts,omitempty" yaml:"timeouts,omitempty"`
}

// TimeoutConfig holds optional per-operation timeout overrides, in seconds.
type TimeoutConfig struct {
	Ping       float64 `json:"ping,omitempty" toml:"ping,omitempty" yaml:"ping,omitempty"`
	Warmup     float64 `json:"warmup,omitempty" toml:"warmup,omitempty" yaml:"warmup,omitempty"`
	Validation float64 `json:"validation,omitempty" toml:"validation,omitempty" yaml:"validation,omitempty"`
	Connection float64 `json:"connection,omitempty" toml:"connection,omitempty" yaml:"connection,omitempty"`
	Default    float64 `json:"default,omitempty" toml:"default,omitempty" yaml:"default,omitempty"`
}

// IsEnabled reports whether the entry should be supervised.
func (e *ServerEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// TimeoutFor resolves the timeout for the given operation, falling back to the
// entry's default override and then to the package defaults.
func (e *ServerEntry) TimeoutFor(op Operation) time.Duration {
	seconds := func(v float64) time.Duration {
		return time.Duration(v * float64(time.Second))
	}

	var override float64
	switch op {
	case OperationPing:
		override = e.Timeouts.Ping
	case OperationWarmup:
		override = e.Timeouts.Warmup
	case OperationValidation:
		override = e.Timeouts.Validation
	case OperationConnection:
		override = e.Timeouts.Connection
	default:
		override = e.Timeouts.Default
	}

	if override > 0 {
		return seconds(override)
	}
	if e.Timeouts.Default > 0 {
		return seconds(e.Timeouts.Default)
	}

	switch op {
	case OperationPing:
		return DefaultPingTimeout
	case OperationWarmup:
		return DefaultWarmupTimeout
	case OperationValidation:
		return DefaultValidationTimeout
	case OperationConnection:
		return DefaultConnectionTimeout
	default:
		return DefaultOperationTimeout
	}
}
