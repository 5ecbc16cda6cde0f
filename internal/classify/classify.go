// Package classify maps raw failure text and error values onto a closed
// taxonomy of error kinds with retryability and a user-facing message.
// Matching is priority ordered: connection phrases are tested before the
// generic tool/server fallback so a message mentioning both "timeout" and
// "tool" classifies as a tool execution timeout.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Kind identifies one member of the closed error taxonomy.
type Kind string

const (
	KindConnectionFailed  Kind = "CONNECTION_FAILED"
	KindConnectionTimeout Kind = "CONNECTION_TIMEOUT"
	KindConnectionLost    Kind = "CONNECTION_LOST"
	KindConnectionRefused Kind = "CONNECTION_REFUSED"

	KindServerNotFound    Kind = "SERVER_NOT_FOUND"
	KindServerStartFailed Kind = "SERVER_START_FAILED"
	KindServerUnavailable Kind = "SERVER_UNAVAILABLE"
	KindServerCrashed     Kind = "SERVER_CRASHED"

	KindToolNotFound         Kind = "TOOL_NOT_FOUND"
	KindToolExecutionFailed  Kind = "TOOL_EXECUTION_FAILED"
	KindToolExecutionTimeout Kind = "TOOL_EXECUTION_TIMEOUT"
	KindToolInvalidParams    Kind = "TOOL_INVALID_PARAMS"

	KindConfigNotFound        Kind = "CONFIG_NOT_FOUND"
	KindConfigInvalid         Kind = "CONFIG_INVALID"
	KindConfigMissingRequired Kind = "CONFIG_MISSING_REQUIRED"

	KindProcessStartFailed      Kind = "PROCESS_START_FAILED"
	KindProcessCrashed          Kind = "PROCESS_CRASHED"
	KindProcessZombie           Kind = "PROCESS_ZOMBIE"
	KindProcessPermissionDenied Kind = "PROCESS_PERMISSION_DENIED"

	KindUnknown           Kind = "UNKNOWN_ERROR"
	KindInternal          Kind = "INTERNAL_ERROR"
	KindValidation        Kind = "VALIDATION_ERROR"
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"
)

// Classification is the derived result of classifying a failure.
// It is never persisted.
type Classification struct {
	Kind        Kind   `json:"type"`
	Retryable   bool   `json:"retryable"`
	UserMessage string `json:"message"`
}

// nonRetryable holds the kinds that must never be retried: configuration
// and validation failures surface immediately on first occurrence.
var nonRetryable = map[Kind]struct{}{
	KindConfigNotFound:          {},
	KindConfigInvalid:           {},
	KindConfigMissingRequired:   {},
	KindProcessPermissionDenied: {},
	KindValidation:              {},
	KindToolNotFound:            {},
	KindToolInvalidParams:       {},
}

// Retryable reports whether failures of the given kind may be retried
// within the caller's attempt budget.
func Retryable(k Kind) bool {
	_, fatal := nonRetryable[k]
	return !fatal
}

var userMessages = map[Kind]string{
	KindConnectionFailed:  "unable to connect to the server, check that it is running",
	KindConnectionTimeout: "timed out connecting to the server, try again later",
	KindConnectionLost:    "the connection to the server was lost",
	KindConnectionRefused: "the server refused the connection, check its configuration",

	KindServerNotFound:    "the requested server is not configured",
	KindServerStartFailed: "the server failed to start, check its configuration",
	KindServerUnavailable: "the server is currently unavailable",
	KindServerCrashed:     "the server has crashed and is being restarted",

	KindToolNotFound:         "the requested tool does not exist on this server",
	KindToolExecutionFailed:  "the tool call failed",
	KindToolExecutionTimeout: "the tool call timed out, try again later",
	KindToolInvalidParams:    "the tool arguments are invalid, check the input",

	KindConfigNotFound:        "the server configuration file was not found",
	KindConfigInvalid:         "the server configuration file is malformed",
	KindConfigMissingRequired: "the server configuration is missing required values",

	KindProcessStartFailed:      "the server process failed to launch",
	KindProcessCrashed:          "the server process has crashed",
	KindProcessZombie:           "an orphaned server process was detected",
	KindProcessPermissionDenied: "insufficient permissions to launch the server process",

	KindUnknown:           "an unknown error occurred",
	KindInternal:          "an internal error occurred",
	KindValidation:        "input validation failed",
	KindResourceExhausted: "system resources are exhausted",
}

// UserMessage returns a short operator-facing message for the kind,
// appending the original detail when it is reasonably sized.
func UserMessage(k Kind, detail string) string {
	base, ok := userMessages[k]
	if !ok {
		base = userMessages[KindUnknown]
	}
	if detail != "" && len(detail) < 200 {
		return fmt.Sprintf("%s: %s", base, detail)
	}
	return base
}

// rule pairs a predicate over the lower-cased failure text with the kind
// it selects. Rules are evaluated top to bottom, first match wins.
type rule struct {
	match func(string) bool
	kind  Kind
}

func anyOf(keywords ...string) func(string) bool {
	return func(msg string) bool {
		for _, kw := range keywords {
			if strings.Contains(msg, kw) {
				return true
			}
		}
		return false
	}
}

var rules = []rule{
	{anyOf("server not found", "no such server", "unknown server"), KindServerNotFound},
	{anyOf("server start failed", "failed to start", "startup failed"), KindServerStartFailed},
	{anyOf("server crashed", "process died", "process terminated"), KindServerCrashed},
	{anyOf("tool not found", "unknown tool", "no such tool"), KindToolNotFound},
	{anyOf("invalid argument", "invalid parameter", "missing required"), KindToolInvalidParams},
	{anyOf("config not found", "configuration missing", "no config"), KindConfigNotFound},
	{anyOf("invalid config", "malformed config", "config error"), KindConfigInvalid},
	{anyOf("permission denied", "access denied", "forbidden"), KindProcessPermissionDenied},
	{anyOf("process start failed", "failed to launch", "cannot start"), KindProcessStartFailed},
	{anyOf("out of memory", "resource exhausted", "too many"), KindResourceExhausted},
}

var connectionPhrases = anyOf(
	"connection refused", "connection reset", "connection aborted",
	"broken pipe", "transport", "session closed",
)

// Classify maps a failure message, and optionally the error value it came
// from, to a taxonomy kind. The error value matters only for detecting
// timeout-type errors, which are treated the same as the "timeout" keyword.
func Classify(message string, err error) Kind {
	if message == "" && err != nil {
		message = err.Error()
	}
	if message == "" {
		return KindUnknown
	}

	msg := strings.ToLower(message)

	// Connection phrases take priority over everything else.
	if connectionPhrases(msg) {
		switch {
		case strings.Contains(msg, "refused"):
			return KindConnectionRefused
		case strings.Contains(msg, "timeout"):
			return KindConnectionTimeout
		default:
			return KindConnectionLost
		}
	}

	if isTimeout(err) || strings.Contains(msg, "timeout") {
		if strings.Contains(msg, "tool") || strings.Contains(msg, "execution") {
			return KindToolExecutionTimeout
		}
		return KindConnectionTimeout
	}

	for _, r := range rules {
		if r.match(msg) {
			return r.kind
		}
	}

	switch {
	case strings.Contains(msg, "tool"):
		return KindToolExecutionFailed
	case strings.Contains(msg, "server"):
		return KindServerUnavailable
	default:
		return KindUnknown
	}
}

// ClassifyError classifies err and bundles retryability and the
// user-facing message into a single Classification.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Retryable: true, UserMessage: userMessages[KindUnknown]}
	}
	kind := Classify(err.Error(), err)
	return New(kind, err.Error())
}

// New builds a Classification for a known kind with the given detail.
func New(kind Kind, detail string) Classification {
	return Classification{
		Kind:        kind,
		Retryable:   Retryable(kind),
		UserMessage: UserMessage(kind, detail),
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnectionClass reports whether the kind indicates a broken transport
// or dead process, the cases where a pooled session must be evicted.
func IsConnectionClass(k Kind) bool {
	switch k {
	case KindConnectionFailed, KindConnectionLost, KindConnectionRefused,
		KindConnectionTimeout, KindServerCrashed, KindProcessCrashed:
		return true
	}
	return false
}
