package supervisor

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/classify"
	"github.com/justDance-everybody/Demo-Echo-Backend/internal/config"
)

// managedProcess wraps one spawned child process and its stdio pipes.
// The supervisor owns the process; sessions attach to the pipes.
type managedProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	stopped atomic.Bool

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

// launch spawns the process described by entry with the resolved env.
// stderr is drained to the logger for the server's lifetime.
func launch(entry config.ServerEntry, env []string, logger hclog.Logger) (*managedProcess, error) {
	cmd := exec.Command(entry.Command, entry.Args...)
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go drainStderr(stderr, logger)

	return &managedProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan struct{}),
	}, nil
}

func (p *managedProcess) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// wait reaps the process exactly once and records the exit error.
func (p *managedProcess) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	})
	<-p.done
	return p.waitErr
}

// alive reports whether the process has not yet been reaped.
func (p *managedProcess) alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	if p.cmd.Process == nil {
		return false
	}
	// Signal 0 probes liveness without delivering anything.
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

func (p *managedProcess) stopRequested() bool {
	return p.stopped.Load()
}

// terminate asks the process to exit with SIGTERM and escalates to
// SIGKILL after the grace period.
func (p *managedProcess) terminate(grace time.Duration, logger hclog.Logger) {
	p.stopped.Store(true)

	if p.cmd.Process == nil {
		return
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Debug("SIGTERM failed, process likely gone", "error", err)
	}

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}

	logger.Warn("process did not exit in time, killing", "pid", p.pid())
	if err := p.cmd.Process.Kill(); err != nil {
		logger.Error("failed to kill process", "pid", p.pid(), "error", err)
	}

	// The waiter owns reaping; give it a moment to observe the kill.
	select {
	case <-p.done:
	case <-time.After(grace):
	}
}

// keepOpenWriter shields the process stdin handed to session dialers.
// Sessions close their transport on teardown; the pipe itself belongs to
// the supervisor and must survive session churn.
type keepOpenWriter struct {
	io.Writer
}

func (keepOpenWriter) Close() error { return nil }

func drainStderr(stderr io.Reader, logger hclog.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Info("stderr", "line", scanner.Text())
	}
}

// classifyStartError maps a spawn failure onto the taxonomy. Permission
// problems are fatal, everything else counts as a start failure.
func classifyStartError(err error) classify.Kind {
	if errors.Is(err, os.ErrPermission) || strings.Contains(strings.ToLower(err.Error()), "permission denied") {
		return classify.KindProcessPermissionDenied
	}
	return classify.KindProcessStartFailed
}
