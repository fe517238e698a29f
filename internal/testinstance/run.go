package testinstance

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/not-pflarr/Pavilion/internal/procexec"
	"github.com/not-pflarr/Pavilion/internal/statusjournal"
)

// Run resolves the run template (if any) against schedVars plus the
// ambient sys scope, executes the resulting script with its working
// directory set to the build link, and appends the terminal status.
//
// Per the redesign in spec section 9 (Open Question #4), a template
// resolution failure aborts immediately with false: the reference
// implementation fails to return here and falls through to executing the
// unresolved script anyway, which this core does not reproduce.
func (t *TestInstance) Run(ctx context.Context, schedVars map[string]string) (bool, error) {
	if t.runTemplatePath != "" {
		if ok, err := t.resolveTemplateFile(schedVars); err != nil || !ok {
			return false, err
		}
	}

	if t.runScriptPath == "" {
		t.appendStatus(statusjournal.RunDone, "No run section in config; nothing to run.")
		return true, nil
	}

	cwd := t.buildLink
	if cwd == "" {
		cwd = t.path
	}

	t.appendStatus(statusjournal.Running, "Starting run.")
	result, err := procexec.Run(ctx, t.runScriptPath, nil, procexec.Options{
		Dir:            cwd,
		LogPath:        t.runLogPath(),
		SilenceTimeout: t.deps.runTimeout(),
		Clock:          t.deps.Clock,
	})
	if err != nil {
		t.appendStatus(statusjournal.RunError, err.Error())
		return false, nil
	}
	if result.TimedOut {
		note := fmt.Sprintf("Run timed out after %s", t.deps.runTimeout())
		if result.Diagnostics != "" {
			note += " (" + result.Diagnostics + ")"
		}
		t.appendStatus(statusjournal.RunFailed, note)
		return false, nil
	}
	if result.ExitCode != 0 {
		t.appendStatus(statusjournal.RunFailed, fmt.Sprintf("Run script exited with status %d", result.ExitCode))
		return false, nil
	}

	t.appendStatus(statusjournal.RunDone, "Run completed successfully.")
	return true, nil
}

func (t *TestInstance) runLogPath() string { return fmt.Sprintf("%s/run.log", t.path) }

// resolveTemplateFile seeds the "sched" and "sys" variable scopes on
// deps.VarMan, then reads runTemplatePath line-by-line, resolves each
// through it, and writes the result to runScriptPath with execute bits set.
func (t *TestInstance) resolveTemplateFile(schedVars map[string]string) (bool, error) {
	if err := t.deps.VarMan.AddVarSet("sched", schedVars); err != nil {
		t.appendStatus(statusjournal.RunError, fmt.Sprintf("seed sched variables: %v", err))
		return false, nil
	}
	if err := t.deps.VarMan.AddVarSet("sys", t.deps.SysVars); err != nil {
		t.appendStatus(statusjournal.RunError, fmt.Sprintf("seed sys variables: %v", err))
		return false, nil
	}

	in, err := os.Open(t.runTemplatePath)
	if err != nil {
		t.appendStatus(statusjournal.RunError, fmt.Sprintf("open run template: %v", err))
		return false, nil
	}
	defer in.Close()

	out, err := os.Create(t.runScriptPath)
	if err != nil {
		t.appendStatus(statusjournal.RunError, fmt.Sprintf("create run script: %v", err))
		return false, nil
	}
	defer out.Close()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		resolved, err := t.deps.VarMan.ResolveDeferredStr(scanner.Text() + "\n")
		if err != nil {
			t.appendStatus(statusjournal.RunError, fmt.Sprintf("resolve run template: %v", err))
			return false, nil
		}
		if _, err := out.WriteString(resolved); err != nil {
			t.appendStatus(statusjournal.RunError, fmt.Sprintf("write run script: %v", err))
			return false, nil
		}
	}
	if err := scanner.Err(); err != nil {
		t.appendStatus(statusjournal.RunError, fmt.Sprintf("read run template: %v", err))
		return false, nil
	}

	if err := os.Chmod(t.runScriptPath, 0o755); err != nil {
		t.appendStatus(statusjournal.RunError, fmt.Sprintf("chmod run script: %v", err))
		return false, nil
	}
	return true, nil
}
