package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tabularun/tabularun/cli/render"
	"github.com/tabularun/tabularun/registry"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command with subcommands.
// List returns thin slices (not inspect-level detail).
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (datasets)",
		Subcommands: []*cli.Command{
			listDatasetsCommand(),
		},
	}
}

func listDatasetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "datasets",
		Usage: "List registered datasets",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:     "registry",
				Usage:    "Path to the dataset registry manifest",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "datasets-dir",
				Usage:    "Root directory of dataset files",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of datasets to return (0 = no limit)",
				Value: 0,
			},
		),
		Action: listDatasetsAction,
	}
}

func listDatasetsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for list commands
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list commands", 1)
	}

	reg, err := registry.Load(c.String("registry"), c.String("datasets-dir"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading dataset registry: %v", err), 1)
	}

	results := reg.List()

	limit := c.Int("limit")
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	if len(results) > listWarningThreshold && limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(results))
	}

	return r.Render(results)
}
