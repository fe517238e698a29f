// Package pavcfg loads the ambient configuration threaded through every
// constructor in the core: working directories, the shared group used for
// lock/script ownership, and the variables that feed build fingerprinting.
package pavcfg

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

// Config is the "pav_cfg" object passed to TestInstance (via Deps) and
// Suite; the IdAllocator, LockFile and BuildCache constructors take the
// paths and group derived from it.
type Config struct {
	// WorkingDir is the root under which suites, tests, and the build cache
	// live (PAV_ROOT/working_dir in the original layout).
	WorkingDir string `yaml:"working_dir"`

	// ConfigDirs lists search roots for local source resolution, in order.
	ConfigDirs []string `yaml:"config_dirs"`

	// SharedGroup is the POSIX group applied to lock files and to composed
	// build/run scripts so a multi-user Pavilion install stays usable by
	// every member.
	SharedGroup string `yaml:"shared_group"`

	// PavRoot is the root of the Pavilion installation itself, used to
	// reconstruct RunCmd ("<PavRoot>/bin/pav run <id>").
	PavRoot string `yaml:"pav_root"`

	// BuildHashVars lists the names of top-level test-config keys whose
	// values feed hashConfig, in addition to the build section itself.
	BuildHashVars []string `yaml:"build_hash_vars"`
}

// Default returns a Config with the same defaults PavTest's config layer
// falls back to when pavilion.yaml sets nothing.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}
	return &Config{
		WorkingDir:    filepath.Join(home, ".pavilion", "working_dir"),
		ConfigDirs:    []string{filepath.Join(home, ".pavilion", "configs")},
		SharedGroup:   "",
		PavRoot:       filepath.Join(home, ".pavilion"),
		BuildHashVars: nil,
	}
}

// Load reads and parses a pavilion.yaml file at path, merging onto top of
// Default() so an install only has to override what it cares about.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, perrors.Wrapf(perrors.ConfigInvalid, err, "read config %q", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, perrors.Wrapf(perrors.ConfigInvalid, err, "parse config %q", path)
	}
	if cfg.WorkingDir == "" {
		return nil, perrors.Errorf(perrors.ConfigInvalid, "config %q: working_dir must not be empty", path)
	}
	return cfg, nil
}

// BuildCacheDir is the directory under WorkingDir holding content-addressed
// build outputs.
func (c *Config) BuildCacheDir() string {
	return filepath.Join(c.WorkingDir, "builds")
}

// TestRunsDir is the test_runs directory under WorkingDir. Suites and
// tests are not kept here: they live under WorkingDir/suites and
// WorkingDir/tests.
func (c *Config) TestRunsDir() string {
	return filepath.Join(c.WorkingDir, "test_runs")
}

// DownloadCacheDir is the directory under WorkingDir holding staged/fetched
// sources.
func (c *Config) DownloadCacheDir() string {
	return filepath.Join(c.WorkingDir, "downloads")
}
