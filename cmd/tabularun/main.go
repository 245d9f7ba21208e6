// Package main provides the tabularun CLI entrypoint.
//
// The CLI is the only execution entrypoint for this gateway — there is
// no HTTP/SSE transport in this build. All commands except `run` are
// read-only.
//
// Usage:
//
//	tabularun <command> [subcommand] [options]
//
// Exit codes for `run`:
//   - 0: succeeded
//   - 1: failed
//   - 2: timed out
//   - 3: rejected
//   - 4: unknown dataset
//   - 10: configuration/wiring error (never reached the agent loop)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tabularun/tabularun/cli/cmd"
	"github.com/tabularun/tabularun/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "tabularun",
		Usage:          "Conversational analytics gateway over CSV datasets",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.InspectCommand(),
			cmd.StatsCommand(),
			cmd.ListCommand(),
			cmd.DebugCommand(),
			cmd.VersionCommand("", commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit() so run's
// agent.Status-derived codes reach the shell unchanged.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
