// Package script composes the build and run shell scripts emitted from a
// test's structured build/run configuration, in the fixed section order the
// core always uses: header, environment, module operations, environment
// assignments, commands.
package script

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/not-pflarr/Pavilion/internal/perrors"
	"github.com/not-pflarr/Pavilion/internal/shutil"
)

// SysPlugin translates a module-change directive into a shell fragment; an
// external collaborator resolved against the running system's environment
// (e.g. `module load <name>` vs. a Lmod-specific incantation).
type SysPlugin interface {
	ModuleChange(module string, sysVars map[string]string) (string, error)
}

// Details configures where and how a composed script is written.
type Details struct {
	Path  string
	Group string
}

// Config is the structured section of a test's build or run block that
// feeds script composition.
type Config struct {
	Modules []string
	Env     map[string]string
	Cmds    []string
}

// Composer accumulates script lines in the order they are added and writes
// them out as a single shell script.
type Composer struct {
	details Details
	lines   []string
}

// New returns a Composer targeting details.Path.
func New(details Details) *Composer {
	return &Composer{details: details}
}

// Comment appends a shell comment line.
func (c *Composer) Comment(text string) {
	c.lines = append(c.lines, "# "+text)
}

// Newline appends a blank line.
func (c *Composer) Newline() {
	c.lines = append(c.lines, "")
}

// Command appends a literal command line.
func (c *Composer) Command(line string) {
	c.lines = append(c.lines, line)
}

// EnvChange appends one `export KEY=VALUE` line per entry, in sorted key
// order for determinism.
func (c *Composer) EnvChange(env map[string]string) {
	for _, k := range sortedKeys(env) {
		c.lines = append(c.lines, fmt.Sprintf("export %s=%s", k, shutil.Escape(env[k])))
	}
}

// ModuleChange appends the shell fragment a SysPlugin produces for module.
func (c *Composer) ModuleChange(plugin SysPlugin, module string, sysVars map[string]string) error {
	frag, err := plugin.ModuleChange(module, sysVars)
	if err != nil {
		return err
	}
	c.lines = append(c.lines, frag)
	return nil
}

// Write atomically writes the accumulated lines to details.Path and sets
// owner+group execute bits.
func (c *Composer) Write() error {
	body := strings.Join(c.lines, "\n") + "\n"
	if err := renameio.WriteFile(c.details.Path, []byte(body), 0o755); err != nil {
		return perrors.Wrapf(perrors.BuildError, err, "write script %q", c.details.Path)
	}
	if err := os.Chmod(c.details.Path, 0o755); err != nil {
		return perrors.Wrapf(perrors.BuildError, err, "chmod script %q", c.details.Path)
	}
	if c.details.Group != "" {
		if err := chownGroup(c.details.Path, c.details.Group); err != nil {
			return perrors.Wrapf(perrors.BuildError, err, "chgrp script %q", c.details.Path)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort is plenty for the small env maps a test emits
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// Compose builds the fixed five-section script body for a build or run
// config, exactly matching PavTest._write_script's emission order: header,
// TEST_ID + helper-library source, module operations, env assignments,
// commands.
func Compose(details Details, testID, pavLibBash string, cfg Config, plugin SysPlugin, sysVars map[string]string) error {
	c := New(details)

	// PavTest invokes build/run scripts directly (not via a shell), so the
	// kernel needs a shebang to know how to execute them.
	c.Command("#!/bin/bash")
	c.Comment("The following is added to every test build and run script.")
	c.EnvChange(map[string]string{"TEST_ID": testID})
	c.Command(fmt.Sprintf("source %s", shutil.Escape(pavLibBash)))

	if len(cfg.Modules) > 0 {
		c.Newline()
		c.Comment("Perform module related changes to the environment.")
		for _, module := range cfg.Modules {
			if err := c.ModuleChange(plugin, module, sysVars); err != nil {
				return perrors.Wrapf(perrors.BuildError, err, "resolve module %q", module)
			}
		}
	}

	if len(cfg.Env) > 0 {
		c.Newline()
		c.Comment("Making any environment changes needed.")
		c.EnvChange(cfg.Env)
	}

	c.Newline()
	if len(cfg.Cmds) > 0 {
		c.Comment("Perform the sequence of test commands.")
		for _, line := range cfg.Cmds {
			for _, split := range strings.Split(line, "\n") {
				c.Command(split)
			}
		}
	} else {
		c.Comment("No commands given for this script.")
	}

	return c.Write()
}
