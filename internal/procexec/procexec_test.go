package procexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunCapturesExitCode(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "log")
	res, err := Run(context.Background(), "sh", []string{"-c", "echo hi; exit 3"}, Options{
		LogPath:        logPath,
		SilenceTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TimedOut {
		t.Fatal("Run reported TimedOut for a process that exited promptly")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hi\n" {
		t.Errorf("log contents = %q, want %q", data, "hi\n")
	}
}

func TestRunKillsOnSilence(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "log")
	res, err := Run(context.Background(), "sh", []string{"-c", "echo start; sleep 5"}, Options{
		LogPath:        logPath,
		SilenceTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Error("Run did not report TimedOut for a process silent past its budget")
	}
}

func TestRunSuccessfulExit(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "log")
	res, err := Run(context.Background(), "true", nil, Options{
		LogPath:        logPath,
		SilenceTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TimedOut || res.ExitCode != 0 {
		t.Errorf("Result = %+v, want a clean zero-exit", res)
	}
}
