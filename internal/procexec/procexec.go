// Package procexec runs a subprocess with its combined output redirected to
// a log file and supervises it under a silence-timeout: the interval
// between successive writes to that log file is bounded, independent of
// the process's total runtime. A process that produces output right up to
// the bound runs indefinitely; one that goes quiet is killed.
package procexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/not-pflarr/Pavilion/internal/logging"
)

// Result is the outcome of a supervised run.
type Result struct {
	// TimedOut is true if the process was killed for exceeding the
	// silence timeout.
	TimedOut bool

	// ExitCode is the process's exit code; meaningless if TimedOut.
	ExitCode int

	// Diagnostics is a best-effort process snapshot captured just before
	// a timeout kill, empty if the process exited on its own or
	// diagnostics collection failed.
	Diagnostics string
}

// Options configures a supervised run.
type Options struct {
	// Dir is the subprocess's working directory.
	Dir string

	// LogPath receives the subprocess's combined stdout+stderr.
	LogPath string

	// SilenceTimeout bounds the interval between successive writes to
	// LogPath.
	SilenceTimeout time.Duration

	// Clock is used for all timing decisions; defaults to the real clock.
	Clock clock.Clock
}

// Run executes name with args under the silence-timeout protocol described
// in the package doc. It always returns a Result (even on timeout) rather
// than treating a timeout as a Go error; only setup failures (can't open
// the log, can't start the process) are returned as errors.
func Run(ctx context.Context, name string, args []string, opts Options) (Result, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	logFile, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("open log %q: %w", opts.LogPath, err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %q: %w", name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	budget := opts.SilenceTimeout
	for {
		timer := clk.NewTimer(budget)
		select {
		case err := <-done:
			timer.Stop()
			if err == nil {
				return Result{ExitCode: 0}, nil
			}
			var exitErr *exec.ExitError
			if ok := asExitError(err, &exitErr); ok {
				return Result{ExitCode: exitErr.ExitCode()}, nil
			}
			return Result{}, fmt.Errorf("wait %q: %w", name, err)

		case <-timer.C():
			info, statErr := os.Stat(opts.LogPath)
			var lastWrite time.Time
			if statErr == nil {
				lastWrite = info.ModTime()
			}
			quiet := clk.Now().Sub(lastWrite)
			if quiet >= opts.SilenceTimeout {
				diag := captureDiagnostics(cmd.Process)
				killProcessGroup(cmd.Process)
				<-done
				logging.Warnf(ctx, "procexec: %q silent for %s, killed", name, quiet)
				return Result{TimedOut: true, Diagnostics: diag}, nil
			}
			// Output arrived since the last check; recompute the
			// remaining budget from the fresh last-write time.
			budget = opts.SilenceTimeout - quiet
		}
	}
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// captureDiagnostics snapshots RSS/CPU for the process being killed, best
// effort, so a silence-timeout status note can include what the process was
// doing. This enriches the terminal status beyond the distilled spec's
// "Build timed out after N seconds" note.
func captureDiagnostics(p *os.Process) string {
	if p == nil {
		return ""
	}
	proc, err := process.NewProcess(int32(p.Pid))
	if err != nil {
		return ""
	}
	mem, memErr := proc.MemoryInfo()
	cpu, cpuErr := proc.CPUPercent()
	if memErr != nil && cpuErr != nil {
		return ""
	}
	if memErr != nil {
		return fmt.Sprintf("cpu=%.1f%%", cpu)
	}
	if cpuErr != nil {
		return fmt.Sprintf("rss=%dKiB", mem.RSS/1024)
	}
	return fmt.Sprintf("rss=%dKiB cpu=%.1f%%", mem.RSS/1024, cpu)
}
