// Package testinstance implements TestInstance, the per-test directory
// that aggregates a resolved configuration, status journal, build link, and
// run template/script, and orchestrates the build()/run() life cycle.
package testinstance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/not-pflarr/Pavilion/internal/buildcache"
	"github.com/not-pflarr/Pavilion/internal/hashutil"
	"github.com/not-pflarr/Pavilion/internal/idalloc"
	"github.com/not-pflarr/Pavilion/internal/logging"
	"github.com/not-pflarr/Pavilion/internal/pavcfg"
	"github.com/not-pflarr/Pavilion/internal/perrors"
	"github.com/not-pflarr/Pavilion/internal/script"
	"github.com/not-pflarr/Pavilion/internal/stage"
	"github.com/not-pflarr/Pavilion/internal/statusjournal"
)

const (
	// DefaultBuildSilentTimeout is BUILD_SILENT_TIMEOUT's default per spec 4.7.
	DefaultBuildSilentTimeout = 30 * time.Second

	// DefaultRunSilentTimeout is RUN_SILENT_TIMEOUT's default per spec 4.7.
	DefaultRunSilentTimeout = 300 * time.Second

	// NoteMax bounds a status note so the full line stays within PIPE_BUF.
	NoteMax = 4000
)

// VariableResolver is the external variable-set manager consulted when
// resolving a run template (spec 4.8 / section 6). AddVarSet lets Run seed
// the "sched" scope fresh on every invocation, since scheduler variables
// are only known once the scheduler has placed the test.
type VariableResolver interface {
	ResolveDeferredStr(line string) (string, error)
	AddVarSet(name string, vars map[string]string) error
}

// Deps bundles every external collaborator a TestInstance needs, so
// Create/FromId don't grow an unbounded parameter list as the core is
// wired into a concrete installation.
type Deps struct {
	PavCfg    *pavcfg.Config
	Stager    *stage.Stager
	Cache     *buildcache.Cache
	Plugin    script.SysPlugin
	SysVars   map[string]string
	VarMan    VariableResolver
	Clock     clock.Clock
	BuildTO   time.Duration
	RunTO     time.Duration
}

func (d *Deps) buildTimeout() time.Duration {
	if d.BuildTO > 0 {
		return d.BuildTO
	}
	return DefaultBuildSilentTimeout
}

func (d *Deps) runTimeout() time.Duration {
	if d.RunTO > 0 {
		return d.RunTO
	}
	return DefaultRunSilentTimeout
}

// Config is the resolved, JSON-shaped configuration for one test, as
// produced by the external config-resolution layer.
type Config map[string]interface{}

func (c Config) stringField(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c Config) mapField(key string) map[string]interface{} {
	v, _ := c[key].(map[string]interface{})
	return v
}

func (c Config) stringSliceField(key string) []string {
	raw, _ := c[key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c Config) stringMapField(key string) map[string]string {
	raw := c.mapField(key)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// TestInstance is the per-test working directory described in spec 3/4.7/4.8.
type TestInstance struct {
	deps *Deps

	id     uint64
	name   string
	path   string
	config Config

	buildFingerprint string
	buildOrigin      string
	buildLink        string
	runTemplatePath  string
	runScriptPath    string

	journal *statusjournal.Journal
}

// ID returns the test's numeric ID.
func (t *TestInstance) ID() uint64 { return t.id }

// Path returns the test's working directory.
func (t *TestInstance) Path() string { return t.path }

// Config returns the resolved configuration this instance was created with.
func (t *TestInstance) Config() Config { return t.config }

// BuildFingerprint returns the 16-hex-char fingerprint, or "" if this test
// has no build section.
func (t *TestInstance) BuildFingerprint() string { return t.buildFingerprint }

// Create allocates a new TestInstance under deps.PavCfg.WorkingDir/tests,
// persists cfg, initializes its status journal, computes its build
// fingerprint, and writes its run template. The directory is not visible
// under its final ID to other processes until config and status both exist,
// matching the invariant in spec section 3.
func Create(ctx context.Context, deps *Deps, cfg Config) (*TestInstance, error) {
	root := filepath.Join(deps.PavCfg.WorkingDir, "tests")
	alloc := idalloc.New(root, deps.PavCfg.SharedGroup)
	id, path, err := alloc.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	t := &TestInstance{
		deps:   deps,
		id:     id,
		name:   cfg.stringField("name"),
		path:   path,
		config: cfg,
	}

	if err := t.saveConfig(); err != nil {
		return nil, err
	}

	journal, err := statusjournal.Open(t.statusPath())
	if err != nil {
		return nil, err
	}
	t.journal = journal

	if err := t.computeFingerprint(ctx); err != nil {
		return nil, err
	}

	if err := t.writeRunTemplate(); err != nil {
		return nil, err
	}

	if err := t.journal.Append(statusjournal.Created, "Test directory setup complete."); err != nil {
		return nil, err
	}

	return t, nil
}

// FromId reconstructs a TestInstance previously created under
// deps.PavCfg.WorkingDir/tests/<id>.
func FromId(ctx context.Context, deps *Deps, id uint64) (*TestInstance, error) {
	path := filepath.Join(deps.PavCfg.WorkingDir, "tests", idalloc.Pad(id))
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, perrors.Errorf(perrors.TestNotFound, "test directory for id %d does not exist at %q", id, path)
	}

	t := &TestInstance{deps: deps, id: id, path: path}
	if err := t.loadConfig(); err != nil {
		return nil, err
	}
	t.name = t.config.stringField("name")

	journal, err := statusjournal.Open(t.statusPath())
	if err != nil {
		return nil, err
	}
	t.journal = journal

	if err := t.computeFingerprint(ctx); err != nil {
		return nil, err
	}
	if build := t.config.mapField("run"); build != nil {
		t.runTemplatePath = filepath.Join(t.path, "run.tmpl")
		t.runScriptPath = filepath.Join(t.path, "run.sh")
	}

	return t, nil
}

func (t *TestInstance) statusPath() string { return filepath.Join(t.path, "status") }
func (t *TestInstance) configPath() string { return filepath.Join(t.path, "config") }
func (t *TestInstance) jobIDPath() string  { return filepath.Join(t.path, "jobid") }

func (t *TestInstance) saveConfig() error {
	data, err := json.Marshal(t.config)
	if err != nil {
		return perrors.Wrapf(perrors.ConfigInvalid, err, "encode config for test %q", t.name)
	}
	if err := os.WriteFile(t.configPath(), data, 0o644); err != nil {
		return perrors.Wrapf(perrors.StatusIO, err, "save config for test %q", t.name)
	}
	return nil
}

func (t *TestInstance) loadConfig() error {
	data, err := os.ReadFile(t.configPath())
	if err != nil {
		return perrors.Wrapf(perrors.StatusIO, err, "read config at %q", t.configPath())
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return perrors.Wrapf(perrors.ConfigInvalid, err, "parse config at %q", t.configPath())
	}
	t.config = cfg
	return nil
}

func (t *TestInstance) computeFingerprint(ctx context.Context) error {
	buildCfg := t.config.mapField("build")
	if buildCfg == nil {
		return nil
	}

	bc := Config(buildCfg)
	var srcPath string
	if loc := bc.stringField("source_location"); loc != "" {
		resolved, err := t.deps.Stager.Resolve(ctx, stage.Config{
			SourceLocation:     loc,
			SourceDownloadName: bc.stringField("source_download_name"),
		})
		if err != nil {
			return err
		}
		srcPath = resolved
	}

	rawExtraFiles := bc.stringSliceField("extra_files")
	extraFiles := make([]string, 0, len(rawExtraFiles))
	for _, name := range rawExtraFiles {
		resolved, err := resolveExtraFile(ctx, t, name)
		if err != nil {
			return err
		}
		extraFiles = append(extraFiles, resolved)
	}

	configHash := hashutil.HashConfig(map[string]interface{}{
		"build":           map[string]interface{}(buildCfg),
		"build_hash_vars": t.hashVars(),
	})
	specificity := bc.stringField("specificity")

	fp, err := buildcache.Fingerprint(configHash, srcPath, extraFiles, specificity)
	if err != nil {
		return err
	}
	t.buildFingerprint = fp
	t.buildOrigin = t.deps.Cache.Origin(fp)
	t.buildLink = filepath.Join(t.path, "build")
	return nil
}

// hashVars collects the top-level config values named by pav_cfg's
// build_hash_vars, so that a build is invalidated when one of these
// out-of-band values changes even though they live outside the build
// section itself (spec 3 / PavConfig.BuildHashVars).
func (t *TestInstance) hashVars() map[string]interface{} {
	vars := make(map[string]interface{}, len(t.deps.PavCfg.BuildHashVars))
	for _, name := range t.deps.PavCfg.BuildHashVars {
		if v, ok := t.config[name]; ok {
			vars[name] = v
		}
	}
	return vars
}

func (t *TestInstance) writeRunTemplate() error {
	runCfg := t.config.mapField("run")
	if runCfg == nil {
		return nil
	}
	t.runTemplatePath = filepath.Join(t.path, "run.tmpl")
	t.runScriptPath = filepath.Join(t.path, "run.sh")

	return t.composeScript(t.runTemplatePath, Config(runCfg))
}

func (t *TestInstance) composeScript(path string, cfg Config) error {
	return script.Compose(
		script.Details{Path: path, Group: t.deps.PavCfg.SharedGroup},
		fmt.Sprint(t.id),
		filepath.Join(t.deps.PavCfg.PavRoot, "bin", "pav-lib.bash"),
		script.Config{
			Modules: cfg.stringSliceField("modules"),
			Env:     cfg.stringMapField("env"),
			Cmds:    cfg.stringSliceField("cmds"),
		},
		t.deps.Plugin,
		t.deps.SysVars,
	)
}

// IsBuilt reports whether this test's build link is present and resolves to
// an existing target.
func (t *TestInstance) IsBuilt() bool {
	if t.buildLink == "" {
		return false
	}
	_, err := os.Stat(t.buildLink)
	return err == nil
}

// Timestamp returns the test directory's mtime as a Unix timestamp, for
// external listing tools.
func (t *TestInstance) Timestamp() (int64, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		return 0, perrors.Wrapf(perrors.StatusIO, err, "stat test directory %q", t.path)
	}
	return info.ModTime().Unix(), nil
}

// JobID returns the scheduler job handle persisted at <path>/jobid, and
// false if none has been recorded yet. This is the fixed version of the
// reference getter, which used os.path.isfile as a context manager; here we
// simply read the file if it exists.
func (t *TestInstance) JobID() (string, bool, error) {
	data, err := os.ReadFile(t.jobIDPath())
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, perrors.Wrapf(perrors.StatusIO, err, "read job id at %q", t.jobIDPath())
	}
	return strings.TrimSpace(string(data)), true, nil
}

// SetJobID persists the scheduler's opaque job handle.
func (t *TestInstance) SetJobID(jobID string) error {
	if err := os.WriteFile(t.jobIDPath(), []byte(jobID), 0o644); err != nil {
		return perrors.Wrapf(perrors.StatusIO, err, "write job id at %q", t.jobIDPath())
	}
	return nil
}

// RunCmd is the re-entry shell command a scheduler invokes to resume this
// single test, reconstructed exactly as the reference's run_cmd.
func (t *TestInstance) RunCmd() string {
	pavPath := filepath.Join(t.deps.PavCfg.PavRoot, "bin", "pav")
	return fmt.Sprintf("%s run %d", pavPath, t.id)
}

func (t *TestInstance) appendStatus(state statusjournal.State, note string) {
	if len(note) > NoteMax {
		note = note[:NoteMax]
	}
	if err := t.journal.Append(state, note); err != nil {
		logging.Errorf(context.Background(), "test %d: append status %s: %v", t.id, state, err)
	}
}
