// Package diagnose produces step-by-step troubleshooting reports for a
// configured server: config presence, process liveness, connection
// establishment and capability listing. The connection test borrows the
// pool's session for the server, so a server's pipes never carry a
// second, competing session; apart from establishing that session when
// absent the diagnosis is side effect free.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/contracts"
)

const (
	StepConfigCheck    = "config_check"
	StepProcessCheck   = "process_check"
	StepConnectionTest = "connection_test"
	StepCapabilityList = "capability_listing"
)

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
	StatusTimeout StepStatus = "timeout"
	StatusError   StepStatus = "error"
)

const (
	SummaryAll     = "all"
	SummaryPartial = "partial"
	SummaryNone    = "none"
)

// StepStatus is the outcome of one diagnostic step.
type StepStatus string

// Step records one executed diagnostic step.
type Step struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// Report aggregates the executed steps with an overall summary and a
// recommendation list.
type Report struct {
	Server          string    `json:"server"`
	DiagnosisID     string    `json:"diagnosis_id"`
	Steps           []Step    `json:"steps"`
	Summary         string    `json:"summary"`
	Recommendations []string  `json:"recommendations,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Diagnoser runs connection diagnostics against supervised servers.
type Diagnoser struct {
	logger   hclog.Logger
	store    config.Store
	status   contracts.StatusReporter
	sessions contracts.SessionSource
}

// New creates a Diagnoser over the given supervisor and pool surfaces.
func New(
	logger hclog.Logger,
	store config.Store,
	status contracts.StatusReporter,
	sessions contracts.SessionSource,
) (*Diagnoser, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if store == nil || reflect.ValueOf(store).IsNil() {
		return nil, fmt.Errorf("config store cannot be nil")
	}
	if sessions == nil || reflect.ValueOf(sessions).IsNil() {
		return nil, fmt.Errorf("session source cannot be nil")
	}

	return &Diagnoser{
		logger:   logger.Named("diagnose"),
		store:    store,
		status:   status,
		sessions: sessions,
	}, nil
}

// Diagnose runs the ordered diagnostic steps for the named server.
// Steps that cannot run because an earlier one failed are omitted.
func (d *Diagnoser) Diagnose(ctx context.Context, name string) Report {
	report := Report{Server: name, DiagnosisID: uuid.NewString(), GeneratedAt: time.Now()}

	entry, ok := d.store.Server(name)
	if !ok {
		report.Steps = append(report.Steps, Step{
			Name:   StepConfigCheck,
			Status: StatusFailed,
			Detail: fmt.Sprintf("no configuration entry for %q", name),
		})
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("add a [[servers]] entry named %q to the configuration file", name))
		return finalize(report)
	}

	detail := fmt.Sprintf("command %q", entry.Command)
	if !entry.IsEnabled() {
		detail += " (disabled)"
	}
	report.Steps = append(report.Steps, Step{Name: StepConfigCheck, Status: StatusSuccess, Detail: detail})

	if !entry.IsEnabled() {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("enable server %q before diagnosing further", name))
		return finalize(report)
	}

	running := d.processCheck(ctx, name, &report)
	if !running {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("start the server, for example: echomcp daemon or echomcp reset %s", name))
		return finalize(report)
	}

	session := d.connectionTest(ctx, name, entry, &report)
	if session == nil {
		report.Recommendations = append(report.Recommendations,
			"check the server logs for handshake errors and verify required environment variables")
		return finalize(report)
	}

	d.capabilityListing(ctx, name, entry, session, &report)

	return finalize(report)
}

func (d *Diagnoser) processCheck(ctx context.Context, name string, report *Report) bool {
	result := d.status.CheckHealth(ctx, name)
	if result.Healthy {
		detail := result.Detail
		if result.Latency != nil {
			detail = fmt.Sprintf("%s (ping %s)", detail, result.Latency)
		}
		report.Steps = append(report.Steps, Step{Name: StepProcessCheck, Status: StatusSuccess, Detail: detail})
		return true
	}

	report.Steps = append(report.Steps, Step{Name: StepProcessCheck, Status: StatusFailed, Detail: result.Detail})
	return false
}

// connectionTest borrows the pool's session for the server, creating it
// if absent. The session stays pooled; it is never closed here.
func (d *Diagnoser) connectionTest(ctx context.Context, name string, entry config.ServerEntry, report *Report) contracts.ProtocolSession {
	getCtx, cancel := context.WithTimeout(ctx, entry.TimeoutFor(config.OperationConnection))
	defer cancel()

	session, err := d.sessions.Get(getCtx, name)
	if err != nil {
		report.Steps = append(report.Steps, Step{
			Name:   StepConnectionTest,
			Status: statusFor(err),
			Detail: err.Error(),
		})
		return nil
	}

	report.Steps = append(report.Steps, Step{Name: StepConnectionTest, Status: StatusSuccess, Detail: "session established"})
	return session
}

func (d *Diagnoser) capabilityListing(ctx context.Context, name string, entry config.ServerEntry, session contracts.ProtocolSession, report *Report) {
	listCtx, cancel := context.WithTimeout(ctx, entry.TimeoutFor(config.OperationValidation))
	defer cancel()

	tools, err := session.ListTools(listCtx)
	if err != nil {
		report.Steps = append(report.Steps, Step{
			Name:   StepCapabilityList,
			Status: statusFor(err),
			Detail: err.Error(),
		})
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("server %q accepted a connection but would not list tools, it may still be starting up", name))
		return
	}

	report.Steps = append(report.Steps, Step{
		Name:   StepCapabilityList,
		Status: StatusSuccess,
		Detail: fmt.Sprintf("%d tool(s) available", len(tools)),
	})
}

func statusFor(err error) StepStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	return StatusError
}

// finalize computes the overall summary from the executed steps.
func finalize(report Report) Report {
	passed := 0
	for _, step := range report.Steps {
		if step.Status == StatusSuccess {
			passed++
		}
	}

	switch {
	case passed == len(report.Steps) && len(report.Steps) > 0 && len(report.Recommendations) == 0:
		report.Summary = SummaryAll
	case passed == 0:
		report.Summary = SummaryNone
	default:
		report.Summary = SummaryPartial
	}

	return report
}
