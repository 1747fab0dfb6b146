// Command zotel runs the telemetry bridge and reads what it collected.
//
//	zotel serve   run the HTTP ingestion bridge
//	zotel query   read a partition from a running bridge
//	zotel tail    show recent events from the hook spool
//	zotel stats   show bridge counters
//	zotel version
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zotel/cli/cmd"
	"github.com/pithecene-io/zotel/types"
)

// commit is set with -ldflags "-X main.commit=...".
var commit = "unknown"

func newApp() *cli.App {
	return &cli.App{
		Name:    "zotel",
		Usage:   "Agent telemetry bridge and tools",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		// Exit codes are decided in main.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.QueryCommand(),
			cmd.TailCommand(),
			cmd.StatsCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

func main() {
	code, msg := exitStatus(newApp().Run(os.Args))
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps a command error to a process exit code and the message
// to print. cli.Exit codes are kept; anything else exits 1.
func exitStatus(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		return 1, "Error: " + err.Error()
	}
	code, msg := ec.ExitCode(), ec.Error()
	// cli.Exit("", n) stringifies as "exit status n".
	if msg == fmt.Sprintf("exit status %d", code) {
		msg = ""
	}
	return code, msg
}
