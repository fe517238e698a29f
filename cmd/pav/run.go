package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/google/subcommands"

	"github.com/not-pflarr/Pavilion/internal/buildcache"
	"github.com/not-pflarr/Pavilion/internal/downloader"
	"github.com/not-pflarr/Pavilion/internal/logging"
	"github.com/not-pflarr/Pavilion/internal/pavcfg"
	"github.com/not-pflarr/Pavilion/internal/stage"
	"github.com/not-pflarr/Pavilion/internal/sysplugin"
	"github.com/not-pflarr/Pavilion/internal/testinstance"
	"github.com/not-pflarr/Pavilion/internal/varset"
)

// runCmd implements `pav run <id>`, the re-entry point a scheduler invokes
// (via TestInstance.RunCmd) on the node a test was dispatched to.
type runCmd struct{}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "resume a single test's run step" }
func (*runCmd) Usage() string {
	return "run <test-id>:\n\tRun the given test's run() step on this node.\n"
}
func (*runCmd) SetFlags(f *flag.FlagSet) {}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Println(r.Usage())
		return subcommands.ExitUsageError
	}
	id, err := strconv.ParseUint(f.Arg(0), 10, 64)
	if err != nil {
		logging.Errorf(ctx, "invalid test id %q: %v", f.Arg(0), err)
		return subcommands.ExitUsageError
	}

	cfg, err := pavcfg.Load(defaultConfigPath())
	if err != nil {
		logging.Errorf(ctx, "load config: %v", err)
		return subcommands.ExitFailure
	}
	if globalWorkingDir != "" {
		cfg.WorkingDir = globalWorkingDir
	}

	deps := &testinstance.Deps{
		PavCfg:  cfg,
		Stager:  stage.New(cfg.ConfigDirs, cfg.DownloadCacheDir(), downloader.New()),
		Cache:   buildcache.New(cfg.BuildCacheDir(), cfg.SharedGroup),
		Plugin:  sysplugin.Default{},
		VarMan:  varset.New(),
		SysVars: mustSysVars(ctx),
	}

	ti, err := testinstance.FromId(ctx, deps, id)
	if err != nil {
		logging.Errorf(ctx, "load test %d: %v", id, err)
		return subcommands.ExitFailure
	}

	ok, err := ti.Run(ctx, map[string]string{})
	if err != nil {
		logging.Errorf(ctx, "run test %d: %v", id, err)
		return subcommands.ExitFailure
	}
	if !ok {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func mustSysVars(ctx context.Context) map[string]string {
	vars, err := sysplugin.Default{}.SysVars()
	if err != nil {
		logging.Warnf(ctx, "sys variables unavailable: %v", err)
		return map[string]string{}
	}
	return vars
}

func defaultConfigPath() string {
	return "/etc/pavilion.yaml"
}
