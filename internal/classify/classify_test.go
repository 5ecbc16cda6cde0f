package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		message  string
		expected Kind
	}{
		{"connection refused", KindConnectionRefused},
		{"dial failed: connection reset by peer", KindConnectionLost},
		{"write: broken pipe", KindConnectionLost},
		{"transport timeout while reading frame", KindConnectionTimeout},
		{"session closed", KindConnectionLost},
		{"timeout", KindConnectionTimeout},
		{"tool call timeout after 120s", KindToolExecutionTimeout},
		{"execution timeout", KindToolExecutionTimeout},
		{"server not found", KindServerNotFound},
		{"no such server: amap-maps", KindServerNotFound},
		{"server start failed", KindServerStartFailed},
		{"process terminated unexpectedly", KindServerCrashed},
		{"tool not found", KindToolNotFound},
		{"unknown tool: weather", KindToolNotFound},
		{"invalid parameter: city", KindToolInvalidParams},
		{"missing required field", KindToolInvalidParams},
		{"config not found", KindConfigNotFound},
		{"malformed config near line 3", KindConfigInvalid},
		{"permission denied", KindProcessPermissionDenied},
		{"access denied", KindProcessPermissionDenied},
		{"cannot start child", KindProcessStartFailed},
		{"too many open files", KindResourceExhausted},
		{"out of memory", KindResourceExhausted},
		{"tool produced garbage", KindToolExecutionFailed},
		{"server replied with nonsense", KindServerUnavailable},
		{"something else entirely", KindUnknown},
		{"", KindUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.message, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.expected, Classify(tc.message, nil))
		})
	}
}

func TestClassify_TimeoutError(t *testing.T) {
	t.Parallel()

	// A deadline error is equivalent to the "timeout" keyword even when
	// the message itself never says so.
	kind := Classify("waiting for tool result", context.DeadlineExceeded)
	require.Equal(t, KindToolExecutionTimeout, kind)

	kind = Classify("waiting for handshake", context.DeadlineExceeded)
	require.Equal(t, KindConnectionTimeout, kind)
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	nonRetryable := []Kind{
		KindConfigNotFound,
		KindConfigInvalid,
		KindConfigMissingRequired,
		KindProcessPermissionDenied,
		KindValidation,
		KindToolNotFound,
		KindToolInvalidParams,
	}
	for _, k := range nonRetryable {
		require.False(t, Retryable(k), "kind %s must not be retryable", k)
	}

	retryable := []Kind{
		KindConnectionRefused,
		KindConnectionTimeout,
		KindServerCrashed,
		KindToolExecutionFailed,
		KindResourceExhausted,
		KindUnknown,
	}
	for _, k := range retryable {
		require.True(t, Retryable(k), "kind %s must be retryable", k)
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	c := ClassifyError(errors.New("permission denied"))
	require.Equal(t, KindProcessPermissionDenied, c.Kind)
	require.False(t, c.Retryable)
	require.Contains(t, c.UserMessage, "permission denied")

	c = ClassifyError(errors.New("connection refused"))
	require.Equal(t, KindConnectionRefused, c.Kind)
	require.True(t, c.Retryable)
}

func TestUserMessage_LongDetailOmitted(t *testing.T) {
	t.Parallel()

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}

	msg := UserMessage(KindToolExecutionFailed, string(long))
	require.Equal(t, "the tool call failed", msg)
}

func TestIsConnectionClass(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{
		KindConnectionFailed, KindConnectionLost, KindConnectionRefused,
		KindConnectionTimeout, KindServerCrashed, KindProcessCrashed,
	} {
		require.True(t, IsConnectionClass(k), "kind %s", k)
	}

	for _, k := range []Kind{KindToolNotFound, KindToolInvalidParams, KindServerUnavailable} {
		require.False(t, IsConnectionClass(k), "kind %s", k)
	}
}
