package domain

import (
	"encoding/json"
	"time"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/classify"
)

const (
	ProcessStateStopped  ProcessState = "stopped"
	ProcessStateStarting ProcessState = "starting"
	ProcessStateRunning  ProcessState = "running"
	ProcessStateCrashed  ProcessState = "crashed"
	ProcessStateCooldown ProcessState = "cooldown"
)

// ProcessState represents the lifecycle state of a supervised server process.
type ProcessState string

// ServerStatus is the mutable status record for one configured server.
// Exactly one exists per configured name for the lifetime of the supervisor.
type ServerStatus struct {
	Name                string         `json:"name"`
	Enabled             bool           `json:"enabled"`
	State               ProcessState   `json:"state"`
	Running             bool           `json:"running"`
	PID                 int            `json:"pid,omitempty"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	RestartCount        int            `json:"restart_count"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Blacklisted         bool           `json:"blacklisted"`
	CooldownUntil       *time.Time     `json:"cooldown_until,omitempty"`
	LastError           string         `json:"last_error,omitempty"`
	LastHealth          *HealthResult  `json:"last_health,omitempty"`
	StartLatencies      []DurationSpan `json:"start_latencies,omitempty"`
}

// DurationSpan is a duration that serializes as a human readable string.
type DurationSpan time.Duration

// MarshalJSON renders the span in time.Duration string form.
func (d DurationSpan) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// HealthResult captures the outcome of one health probe.
type HealthResult struct {
	Healthy   bool           `json:"healthy"`
	Detail    string         `json:"detail,omitempty"`
	Latency   *time.Duration `json:"latency,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// EnsureResult is the structured outcome of an ensure-running request.
type EnsureResult struct {
	Success bool                     `json:"success"`
	Running bool                     `json:"running"`
	PID     int                      `json:"pid,omitempty"`
	Message string                   `json:"message,omitempty"`
	Error   *classify.Classification `json:"error,omitempty"`
}

// Tool describes one callable capability exposed by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// InvokeResult is the structured outcome of a tool invocation.
type InvokeResult struct {
	ToolID  string                   `json:"tool_id"`
	Server  string                   `json:"server,omitempty"`
	Success bool                     `json:"success"`
	Result  string                   `json:"result,omitempty"`
	Error   *classify.Classification `json:"error,omitempty"`
	TraceID string                   `json:"trace_id,omitempty"`
}
