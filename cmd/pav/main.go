// Package main implements pav, the command re-entered by a scheduler (via
// TestInstance.RunCmd) to resume a single test's run() step on the node it
// was dispatched to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/not-pflarr/Pavilion/internal/logging"
)

// globalWorkingDir lets the run subcommand see the -working-dir flag
// without threading flag.FlagSet state through subcommands.Command.
var globalWorkingDir string

func doMain() int {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")

	workingDir := flag.String("working-dir", "", "Pavilion working directory (overrides pavilion.yaml)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	ctx := logging.NewContext(context.Background(), stderrLogger{min: level})

	globalWorkingDir = *workingDir

	return int(subcommands.Execute(ctx))
}

// stderrLogger is a minimal logging.Logger that writes to stderr above a
// configured threshold; a full installation would plug in the syslog or
// multi-sink logger instead.
type stderrLogger struct{ min logging.Level }

func (l stderrLogger) Log(level logging.Level, when time.Time, msg string) {
	if level < l.min {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s: %s\n", when.Format(time.RFC3339), level, msg)
}

func main() {
	os.Exit(doMain())
}
