package testinstance

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/not-pflarr/Pavilion/internal/procexec"
	"github.com/not-pflarr/Pavilion/internal/script"
	"github.com/not-pflarr/Pavilion/internal/stage"
	"github.com/not-pflarr/Pavilion/internal/statusjournal"
)

// Build implements the protocol of spec 4.7 literally: if the test has no
// build section this is a no-op success; otherwise the shared BuildCache is
// consulted, building into a temporary tree under a cross-process lock on
// cache miss, and the result is materialized into this test's build link.
// Errors inside Build are always converted to a terminal status and a
// boolean return; callers never see raw I/O errors from this method.
func (t *TestInstance) Build(ctx context.Context) (bool, error) {
	buildCfg := t.config.mapField("build")
	if buildCfg == nil {
		t.appendStatus(statusjournal.Created, "No build section in config; nothing to build.")
		return true, nil
	}

	t.appendStatus(statusjournal.Building, "Starting build.")

	ok, err := t.deps.Cache.Ensure(ctx, t.buildFingerprint, t.runBuildScript(Config(buildCfg)), t.path)
	if err != nil {
		t.appendStatus(statusjournal.BuildError, err.Error())
		return false, nil
	}
	if !ok {
		// runBuildScript has already appended the specific terminal
		// status (BUILD_FAILED with timeout/exit-code detail).
		return false, nil
	}

	t.appendStatus(statusjournal.BuildDone, "Build completed successfully.")
	return true, nil
}

// runBuildScript returns the buildcache.BuildFunc that stages source plus
// extra files into tmp, composes build.sh there, and executes it under
// silence-timeout supervision.
func (t *TestInstance) runBuildScript(buildCfg Config) func(ctx context.Context, tmp string) (bool, error) {
	return func(ctx context.Context, tmp string) (bool, error) {
		srcLoc := buildCfg.stringField("source_location")
		var srcPath string
		if srcLoc != "" {
			resolved, err := t.deps.Stager.Resolve(ctx, stage.Config{
				SourceLocation:     srcLoc,
				SourceDownloadName: buildCfg.stringField("source_download_name"),
			})
			if err != nil {
				t.appendStatus(statusjournal.BuildError, err.Error())
				return false, nil
			}
			srcPath = resolved
		}

		extraFiles, ok := resolveExtraFiles(ctx, t, buildCfg.stringSliceField("extra_files"))
		if !ok {
			return false, nil
		}
		if err := t.deps.Stager.Stage(ctx, srcPath, tmp, extraFiles); err != nil {
			t.appendStatus(statusjournal.BuildError, err.Error())
			return false, nil
		}

		buildScriptPath := filepath.Join(t.path, "build.sh")
		if err := script.Compose(
			script.Details{Path: buildScriptPath, Group: t.deps.PavCfg.SharedGroup},
			fmt.Sprint(t.id),
			filepath.Join(t.deps.PavCfg.PavRoot, "bin", "pav-lib.bash"),
			script.Config{
				Modules: buildCfg.stringSliceField("modules"),
				Env:     buildCfg.stringMapField("env"),
				Cmds:    buildCfg.stringSliceField("cmds"),
			},
			t.deps.Plugin,
			t.deps.SysVars,
		); err != nil {
			t.appendStatus(statusjournal.BuildError, err.Error())
			return false, nil
		}

		result, err := procexec.Run(ctx, buildScriptPath, nil, procexec.Options{
			Dir:            tmp,
			LogPath:        filepath.Join(tmp, "pav_build_log"),
			SilenceTimeout: t.deps.buildTimeout(),
			Clock:          t.deps.Clock,
		})
		if err != nil {
			t.appendStatus(statusjournal.BuildError, err.Error())
			return false, nil
		}
		if result.TimedOut {
			note := fmt.Sprintf("Build timed out after %s", t.deps.buildTimeout())
			if result.Diagnostics != "" {
				note += " (" + result.Diagnostics + ")"
			}
			t.appendStatus(statusjournal.BuildFailed, note)
			return false, nil
		}
		if result.ExitCode != 0 {
			t.appendStatus(statusjournal.BuildFailed, fmt.Sprintf("Build script exited with status %d", result.ExitCode))
			return false, nil
		}
		return true, nil
	}
}

// resolveExtraFiles resolves each extra_files entry the same way a bare
// local source_location would be (search path lookup, absolute paths used
// as-is), since spec 4.5 treats them identically once named. Per spec 7,
// SRC_NOT_FOUND on an individual extra file is fatal to the build but not
// to the process: the first unresolved entry is recorded once in the
// journal and false is returned, which stops the build.
func resolveExtraFiles(ctx context.Context, t *TestInstance, names []string) ([]string, bool) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		resolved, err := resolveExtraFile(ctx, t, name)
		if err != nil || resolved == "" {
			t.appendStatus(statusjournal.BuildError, fmt.Sprintf("extra file %q not found", name))
			return nil, false
		}
		out = append(out, resolved)
	}
	return out, true
}

// resolveExtraFile resolves a single extra_files entry against the search
// path, used both for staging (resolveExtraFiles, above) and for computing
// the build fingerprint (computeFingerprint in testinstance.go) so the two
// always agree on which file backs a given name.
func resolveExtraFile(ctx context.Context, t *TestInstance, name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	return t.deps.Stager.Resolve(ctx, stage.Config{SourceLocation: name})
}

