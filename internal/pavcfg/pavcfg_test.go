package pavcfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkingDir != Default().WorkingDir {
		t.Errorf("WorkingDir = %q, want the default %q", cfg.WorkingDir, Default().WorkingDir)
	}
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pavilion.yaml")
	body := "working_dir: /var/pav\nshared_group: pavusers\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkingDir != "/var/pav" {
		t.Errorf("WorkingDir = %q, want /var/pav", cfg.WorkingDir)
	}
	if cfg.SharedGroup != "pavusers" {
		t.Errorf("SharedGroup = %q, want pavusers", cfg.SharedGroup)
	}
	// PavRoot wasn't set in the file, so it must fall back to the default.
	if cfg.PavRoot != Default().PavRoot {
		t.Errorf("PavRoot = %q, want default %q", cfg.PavRoot, Default().PavRoot)
	}
}

func TestBuildCacheDirUnderWorkingDir(t *testing.T) {
	cfg := &Config{WorkingDir: "/pav/work"}
	if got, want := cfg.BuildCacheDir(), filepath.Join("/pav/work", "builds"); got != want {
		t.Errorf("BuildCacheDir() = %q, want %q", got, want)
	}
}
