package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// CleanupZombies sweeps the OS process table for processes whose argv
// matches a configured launch spec but which are not tracked by any
// status record, and terminates them. Returns the number reaped.
//
// Such orphans appear when a previous supervisor instance died without
// stopping its children, or when a child double-forked.
func (s *Supervisor) CleanupZombies(ctx context.Context) (int, error) {
	patterns := s.launchPatterns()
	if len(patterns) == 0 {
		return 0, nil
	}

	tracked := s.trackedPIDs()
	self := os.Getpid()

	procDirs, err := filepath.Glob("/proc/[0-9]*")
	if err != nil {
		return 0, fmt.Errorf("failed to scan process table: %w", err)
	}

	reaped := 0
	for _, dir := range procDirs {
		select {
		case <-ctx.Done():
			return reaped, ctx.Err()
		default:
		}

		pid, err := strconv.Atoi(filepath.Base(dir))
		if err != nil || pid == self {
			continue
		}
		if _, ok := tracked[pid]; ok {
			continue
		}

		cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline"))
		if err != nil {
			continue
		}
		// cmdline is NUL separated, with a trailing NUL.
		argv := strings.Split(strings.TrimRight(string(cmdline), "\x00"), "\x00")

		name, matched := matchArgv(argv, patterns)
		if !matched {
			continue
		}

		s.logger.Warn("terminating orphaned server process", "server", name, "pid", pid)
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			s.logger.Error("failed to kill orphaned process", "pid", pid, "error", err)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		s.logger.Info("zombie sweep complete", "reaped", reaped)
	}

	return reaped, nil
}

// launchPatterns builds one argv pattern per configured server from its
// command and arguments.
func (s *Supervisor) launchPatterns() map[string][]string {
	patterns := make(map[string][]string)
	for _, entry := range s.store.ListServers() {
		patterns[entry.Name] = append([]string{entry.Command}, entry.Args...)
	}
	return patterns
}

// trackedPIDs returns the PIDs of every live process the supervisor owns.
func (s *Supervisor) trackedPIDs() map[int]struct{} {
	s.mu.RLock()
	records := make([]*serverRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	pids := make(map[int]struct{}, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		if rec.proc != nil && rec.procAlive() {
			pids[rec.proc.pid()] = struct{}{}
		}
		rec.mu.Unlock()
	}
	return pids
}

// matchArgv reports which configured server, if any, a process argv
// belongs to. The executable may appear under an absolute path, so it is
// compared by basename; the configured arguments must match the leading
// argv entries exactly, never by substring.
func matchArgv(argv []string, patterns map[string][]string) (string, bool) {
	for name, pattern := range patterns {
		if len(pattern) == 0 || len(argv) < len(pattern) {
			continue
		}
		if filepath.Base(argv[0]) != filepath.Base(pattern[0]) {
			continue
		}

		matched := true
		for i := 1; i < len(pattern); i++ {
			if argv[i] != pattern[i] {
				matched = false
				break
			}
		}
		if matched {
			return name, true
		}
	}
	return "", false
}
