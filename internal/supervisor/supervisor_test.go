package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/classify"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/domain"
)

// fakeClock is a manually advanced time source for cooldown tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testStore(entries ...config.ServerEntry) config.Store {
	return &config.Config{Servers: entries}
}

func newTestSupervisor(t *testing.T, store config.Store, opt ...Option) *Supervisor {
	t.Helper()

	s, err := New(hclog.NewNullLogger(), store, opt...)
	require.NoError(t, err)
	t.Cleanup(func() { s.StopAll(context.Background()) })
	return s
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, testStore())
	require.Error(t, err)

	var nilStore config.Store
	_, err = New(hclog.NewNullLogger(), nilStore)
	require.Error(t, err)
}

func TestEnsureRunning_EchoScenario(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "echo", Args: []string{"ok"}},
	))

	res := s.EnsureRunning(context.Background(), "alpha", false)
	require.True(t, res.Success)
	require.True(t, res.Running)
	require.NotZero(t, res.PID)

	// Connect-only never spawns and never mutates restart_count, even if
	// the short-lived process has already exited.
	again := s.EnsureRunning(context.Background(), "alpha", true)
	require.Equal(t, res.PID, again.PID)

	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.Zero(t, status.RestartCount)
	require.Equal(t, res.PID, status.PID)
}

func TestEnsureRunning_UnknownServer(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore())

	res := s.EnsureRunning(context.Background(), "nope", false)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	require.Equal(t, classify.KindServerNotFound, res.Error.Kind)
}

func TestEnsureRunning_ConnectOnlyAbsent(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"30"}},
	))

	res := s.EnsureRunning(context.Background(), "alpha", true)
	require.False(t, res.Success)
	require.False(t, res.Running)
	require.Zero(t, res.PID)
	require.NotNil(t, res.Error)
	require.Equal(t, classify.KindServerUnavailable, res.Error.Kind)

	// Nothing was spawned.
	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.Equal(t, domain.ProcessStateStopped, status.State)
}

func TestEnsureRunning_Disabled(t *testing.T) {
	t.Parallel()

	disabled := false
	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"30"}, Enabled: &disabled},
	))

	res := s.EnsureRunning(context.Background(), "alpha", false)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	require.Equal(t, classify.KindServerUnavailable, res.Error.Kind)
}

func TestEnsureRunning_MissingRequiredEnv(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{
			Name:        "alpha",
			Command:     "sleep",
			Args:        []string{"30"},
			RequiredEnv: []string{"ECHOMCP_TEST_NEVER_SET"},
		},
	))

	res := s.EnsureRunning(context.Background(), "alpha", false)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	require.Equal(t, classify.KindConfigMissingRequired, res.Error.Kind)
	require.False(t, res.Error.Retryable)
}

func TestEnsureRunning_CommandNotFound(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "definitely-not-a-real-binary-xyz"},
	),
		WithStartAttempts(2),
		WithStartBackoff(time.Millisecond),
	)

	res := s.EnsureRunning(context.Background(), "alpha", false)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	require.Equal(t, classify.KindProcessStartFailed, res.Error.Kind)

	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.Equal(t, 1, status.ConsecutiveFailures)
}

func TestEnsureRunning_SpawnFailureBudgetTripsCooldown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "definitely-not-a-real-binary-xyz"},
	),
		WithClock(clock.Now),
		WithStartAttempts(1),
		WithMaxConsecutiveFailures(2),
		WithCooldown(30*time.Second, 10*time.Minute),
	)

	require.False(t, s.EnsureRunning(context.Background(), "alpha", false).Success)
	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.False(t, status.Blacklisted)

	// Second failed start request spends the failure budget.
	require.False(t, s.EnsureRunning(context.Background(), "alpha", false).Success)
	status, err = s.Status("alpha")
	require.NoError(t, err)
	require.True(t, status.Blacklisted)
	require.Equal(t, domain.ProcessStateCooldown, status.State)
	require.NotNil(t, status.CooldownUntil)

	// While cooling down no further spawn is attempted.
	res := s.EnsureRunning(context.Background(), "alpha", false)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	require.Equal(t, classify.KindServerUnavailable, res.Error.Kind)
}

func TestEnsureRunning_NoDuplicateSpawns(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	))

	const callers = 16
	results := make([]domain.EnsureResult, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = s.EnsureRunning(context.Background(), "alpha", false)
		}(i)
	}
	wg.Wait()

	pid := results[0].PID
	for i, res := range results {
		require.True(t, res.Success, "caller %d", i)
		require.Equal(t, pid, res.PID, "caller %d saw a different process", i)
	}
}

func TestEnsureRunning_ReusesRunningProcess(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	))

	first := s.EnsureRunning(context.Background(), "alpha", false)
	require.True(t, first.Success)

	second := s.EnsureRunning(context.Background(), "alpha", false)
	require.True(t, second.Success)
	require.Equal(t, first.PID, second.PID)

	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.Zero(t, status.RestartCount)
}

func TestRestart_IncrementsCount(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	))

	first := s.EnsureRunning(context.Background(), "alpha", false)
	require.True(t, first.Success)

	require.NoError(t, s.Restart(context.Background(), "alpha"))

	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.Equal(t, 1, status.RestartCount)
	require.True(t, status.Running)
	require.NotEqual(t, first.PID, status.PID)
}

func TestRestart_BudgetDrivesCooldown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	),
		WithClock(clock.Now),
		WithMaxRestarts(2),
		WithRestartWindow(time.Minute),
		WithCooldown(30*time.Second, 10*time.Minute),
	)

	require.True(t, s.EnsureRunning(context.Background(), "alpha", false).Success)

	require.NoError(t, s.Restart(context.Background(), "alpha"))
	require.NoError(t, s.Restart(context.Background(), "alpha"))

	// Budget spent: the third restart inside the window trips cooldown.
	err := s.Restart(context.Background(), "alpha")
	require.ErrorIs(t, err, ErrServerCooldown)

	status, statusErr := s.Status("alpha")
	require.NoError(t, statusErr)
	require.True(t, status.Blacklisted)
	require.Equal(t, domain.ProcessStateCooldown, status.State)
	require.NotNil(t, status.CooldownUntil)
	require.Equal(t, clock.Now().Add(30*time.Second), *status.CooldownUntil)

	// No restart happens before cooldown_until.
	res := s.EnsureRunning(context.Background(), "alpha", false)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	require.Equal(t, classify.KindServerUnavailable, res.Error.Kind)

	clock.Advance(29 * time.Second)
	require.False(t, s.EnsureRunning(context.Background(), "alpha", false).Success)

	// Past the deadline the server may start again.
	clock.Advance(2 * time.Second)
	res = s.EnsureRunning(context.Background(), "alpha", false)
	require.True(t, res.Success)

	status, statusErr = s.Status("alpha")
	require.NoError(t, statusErr)
	require.False(t, status.Blacklisted)
	require.Nil(t, status.CooldownUntil)
}

func TestCooldown_GrowsPerOffense(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	),
		WithClock(clock.Now),
		WithMaxRestarts(1),
		WithRestartWindow(time.Minute),
		WithCooldown(10*time.Second, time.Minute),
	)

	spendBudget := func() {
		require.True(t, s.EnsureRunning(context.Background(), "alpha", false).Success)
		require.NoError(t, s.Restart(context.Background(), "alpha"))
		require.ErrorIs(t, s.Restart(context.Background(), "alpha"), ErrServerCooldown)
	}

	spendBudget()
	status, err := s.Status("alpha")
	require.NoError(t, err)
	first := status.CooldownUntil.Sub(clock.Now())
	require.Equal(t, 10*time.Second, first)

	// Second offense doubles the cooldown.
	clock.Advance(first + time.Second)
	spendBudget()
	status, err = s.Status("alpha")
	require.NoError(t, err)
	require.Equal(t, 20*time.Second, status.CooldownUntil.Sub(clock.Now()))
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
		config.ServerEntry{Name: "beta", Command: "sleep", Args: []string{"60"}},
	))

	require.True(t, s.EnsureRunning(context.Background(), "alpha", false).Success)

	result := s.CheckHealth(context.Background(), "alpha")
	require.True(t, result.Healthy)
	require.Equal(t, "process alive", result.Detail)

	// Never-started server is unhealthy.
	result = s.CheckHealth(context.Background(), "beta")
	require.False(t, result.Healthy)
	require.Equal(t, "process not running", result.Detail)

	status, err := s.Status("beta")
	require.NoError(t, err)
	require.Equal(t, 1, status.ConsecutiveFailures)
}

func TestCheckHealth_FailureBudgetBlacklists(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	),
		WithClock(clock.Now),
		WithMaxConsecutiveFailures(2),
	)

	s.CheckHealth(context.Background(), "alpha")
	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.False(t, status.Blacklisted)

	s.CheckHealth(context.Background(), "alpha")
	status, err = s.Status("alpha")
	require.NoError(t, err)
	require.True(t, status.Blacklisted)
	require.NotNil(t, status.CooldownUntil)
}

func TestCheckHealth_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	))

	s.CheckHealth(context.Background(), "alpha")
	require.True(t, s.EnsureRunning(context.Background(), "alpha", false).Success)

	result := s.CheckHealth(context.Background(), "alpha")
	require.True(t, result.Healthy)

	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.Zero(t, status.ConsecutiveFailures)
}

func TestResetFailures(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	),
		WithClock(clock.Now),
		WithMaxConsecutiveFailures(1),
	)

	s.CheckHealth(context.Background(), "alpha")
	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.True(t, status.Blacklisted)

	require.NoError(t, s.ResetFailures("alpha"))

	status, err = s.Status("alpha")
	require.NoError(t, err)
	require.False(t, status.Blacklisted)
	require.Nil(t, status.CooldownUntil)
	require.Zero(t, status.ConsecutiveFailures)

	require.ErrorIs(t, s.ResetFailures("nope"), ErrServerNotFound)
}

func TestStop(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	))

	require.True(t, s.EnsureRunning(context.Background(), "alpha", false).Success)
	require.NoError(t, s.Stop(context.Background(), "alpha"))

	status, err := s.Status("alpha")
	require.NoError(t, err)
	require.False(t, status.Running)
	require.Equal(t, domain.ProcessStateStopped, status.State)

	_, _, ok := s.ProcessIO("alpha")
	require.False(t, ok)
}

func TestProcessIO(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
		config.ServerEntry{Name: "beta", Command: "sleep", Args: []string{"60"}},
	))

	require.True(t, s.EnsureRunning(context.Background(), "alpha", false).Success)

	stdin, stdout, ok := s.ProcessIO("alpha")
	require.True(t, ok)
	require.NotNil(t, stdin)
	require.NotNil(t, stdout)

	_, _, ok = s.ProcessIO("beta")
	require.False(t, ok)

	_, _, ok = s.ProcessIO("nope")
	require.False(t, ok)
}

func TestProcessIO_SessionCloseKeepsProcess(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
	))

	require.True(t, s.EnsureRunning(context.Background(), "alpha", false).Success)

	stdin, _, ok := s.ProcessIO("alpha")
	require.True(t, ok)

	// Session teardown closes the writer it was handed; the process must
	// not receive EOF and the pipes must stay attachable.
	require.NoError(t, stdin.Close())

	result := s.CheckHealth(context.Background(), "alpha")
	require.True(t, result.Healthy)

	_, _, ok = s.ProcessIO("alpha")
	require.True(t, ok)
}

func TestStatuses_SortedByName(t *testing.T) {
	t.Parallel()

	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "zulu", Command: "echo"},
		config.ServerEntry{Name: "alpha", Command: "echo"},
		config.ServerEntry{Name: "mike", Command: "echo"},
	))

	statuses := s.Statuses()
	require.Len(t, statuses, 3)
	require.Equal(t, "alpha", statuses[0].Name)
	require.Equal(t, "mike", statuses[1].Name)
	require.Equal(t, "zulu", statuses[2].Name)
}

func TestMatchArgv(t *testing.T) {
	t.Parallel()

	patterns := map[string][]string{
		"alpha": {"sleep", "60"},
		"maps":  {"npx", "-y", "@amap/amap-maps-mcp-server"},
	}

	tests := []struct {
		name     string
		argv     []string
		expected string
		matched  bool
	}{
		{"exact argv", []string{"sleep", "60"}, "alpha", true},
		{"absolute executable path", []string{"/usr/bin/sleep", "60"}, "alpha", true},
		{"extra trailing args allowed", []string{"npx", "-y", "@amap/amap-maps-mcp-server", "--stdio"}, "maps", true},
		{"different argument", []string{"sleep", "600"}, "", false},
		{"executable substring", []string{"my-sleep", "60"}, "", false},
		{"argument substring", []string{"grep", "sleep 60", "/var/log/syslog"}, "", false},
		{"shorter argv", []string{"npx", "-y"}, "", false},
		{"empty argv", nil, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			name, matched := matchArgv(tc.argv, patterns)
			require.Equal(t, tc.matched, matched)
			require.Equal(t, tc.expected, name)
		})
	}
}

func TestStartAll(t *testing.T) {
	t.Parallel()

	disabled := false
	s := newTestSupervisor(t, testStore(
		config.ServerEntry{Name: "alpha", Command: "sleep", Args: []string{"60"}},
		config.ServerEntry{Name: "beta", Command: "sleep", Args: []string{"60"}},
		config.ServerEntry{Name: "gamma", Command: "sleep", Args: []string{"60"}, Enabled: &disabled},
	))

	require.NoError(t, s.StartAll(context.Background()))

	for _, name := range []string{"alpha", "beta"} {
		status, err := s.Status(name)
		require.NoError(t, err)
		require.True(t, status.Running, "server %s", name)
	}

	status, err := s.Status("gamma")
	require.NoError(t, err)
	require.False(t, status.Running)
}
