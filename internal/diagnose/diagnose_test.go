package diagnose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/contracts"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/domain"
)

type fakeSession struct {
	tools   []domain.Tool
	listErr error
	closed  bool
}

func (s *fakeSession) Ping(context.Context) error { return nil }

func (s *fakeSession) ListTools(context.Context) ([]domain.Tool, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tools, nil
}

func (s *fakeSession) CallTool(context.Context, string, map[string]any) (string, error) {
	return "", nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeSource hands out one pooled session, or fails like a pool whose
// connect sequence could not establish one.
type fakeSource struct {
	session *fakeSession
	err     error
}

func (f *fakeSource) Get(context.Context, string) (contracts.ProtocolSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeStatus struct {
	healthy bool
	detail  string
}

func (f *fakeStatus) Status(name string) (domain.ServerStatus, error) {
	return domain.ServerStatus{Name: name}, nil
}

func (f *fakeStatus) Statuses() []domain.ServerStatus { return nil }

func (f *fakeStatus) CheckHealth(context.Context, string) domain.HealthResult {
	return domain.HealthResult{Healthy: f.healthy, Detail: f.detail, CheckedAt: time.Now()}
}

func testStore() config.Store {
	return &config.Config{Servers: []config.ServerEntry{
		{Name: "alpha", Command: "npx", Args: []string{"-y", "some-server"}},
	}}
}

func newDiagnoser(t *testing.T, status *fakeStatus, sessions *fakeSource) *Diagnoser {
	t.Helper()

	d, err := New(hclog.NewNullLogger(), testStore(), status, sessions)
	require.NoError(t, err)
	return d
}

func stepByName(t *testing.T, report Report, name string) Step {
	t.Helper()

	for _, step := range report.Steps {
		if step.Name == name {
			return step
		}
	}
	t.Fatalf("step %q not found in report", name)
	return Step{}
}

func TestDiagnose_AllPass(t *testing.T) {
	t.Parallel()

	session := &fakeSession{tools: []domain.Tool{{Name: "echo"}, {Name: "weather"}}}
	d := newDiagnoser(t,
		&fakeStatus{healthy: true, detail: "process alive"},
		&fakeSource{session: session},
	)

	report := d.Diagnose(context.Background(), "alpha")
	require.Equal(t, SummaryAll, report.Summary)
	require.Len(t, report.Steps, 4)
	require.Empty(t, report.Recommendations)
	require.NotEmpty(t, report.DiagnosisID)

	require.Equal(t, StatusSuccess, stepByName(t, report, StepConfigCheck).Status)
	require.Equal(t, StatusSuccess, stepByName(t, report, StepProcessCheck).Status)
	require.Equal(t, StatusSuccess, stepByName(t, report, StepConnectionTest).Status)

	caps := stepByName(t, report, StepCapabilityList)
	require.Equal(t, StatusSuccess, caps.Status)
	require.Contains(t, caps.Detail, "2 tool(s)")

	// The session belongs to the pool and survives the diagnosis.
	require.False(t, session.closed)
}

func TestDiagnose_UnknownServer(t *testing.T) {
	t.Parallel()

	d := newDiagnoser(t, &fakeStatus{}, &fakeSource{})

	report := d.Diagnose(context.Background(), "nope")
	require.Equal(t, SummaryNone, report.Summary)
	require.Len(t, report.Steps, 1)
	require.Equal(t, StatusFailed, report.Steps[0].Status)
	require.NotEmpty(t, report.Recommendations)
}

func TestDiagnose_ProcessDown(t *testing.T) {
	t.Parallel()

	d := newDiagnoser(t,
		&fakeStatus{healthy: false, detail: "process not running"},
		&fakeSource{},
	)

	report := d.Diagnose(context.Background(), "alpha")
	require.Equal(t, SummaryPartial, report.Summary)
	require.Len(t, report.Steps, 2)
	require.Equal(t, StatusFailed, stepByName(t, report, StepProcessCheck).Status)
	require.NotEmpty(t, report.Recommendations)
}

func TestDiagnose_ConnectionRefused(t *testing.T) {
	t.Parallel()

	d := newDiagnoser(t,
		&fakeStatus{healthy: true, detail: "process alive"},
		&fakeSource{err: errors.New("connection refused")},
	)

	report := d.Diagnose(context.Background(), "alpha")
	require.Equal(t, SummaryPartial, report.Summary)
	require.Equal(t, StatusError, stepByName(t, report, StepConnectionTest).Status)
	require.NotEmpty(t, report.Recommendations)
}

func TestDiagnose_ConnectionTimeout(t *testing.T) {
	t.Parallel()

	d := newDiagnoser(t,
		&fakeStatus{healthy: true, detail: "process alive"},
		&fakeSource{err: context.DeadlineExceeded},
	)

	report := d.Diagnose(context.Background(), "alpha")
	require.Equal(t, StatusTimeout, stepByName(t, report, StepConnectionTest).Status)
}

func TestDiagnose_CapabilityListingFails(t *testing.T) {
	t.Parallel()

	session := &fakeSession{listErr: errors.New("session closed")}
	d := newDiagnoser(t,
		&fakeStatus{healthy: true, detail: "process alive"},
		&fakeSource{session: session},
	)

	report := d.Diagnose(context.Background(), "alpha")
	require.Equal(t, SummaryPartial, report.Summary)
	require.Equal(t, StatusError, stepByName(t, report, StepCapabilityList).Status)
	require.False(t, session.closed)
}
