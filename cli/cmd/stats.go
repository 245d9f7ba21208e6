package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tabularun/tabularun/cli/render"
	"github.com/tabularun/tabularun/telemetry"
)

// StatsCommand returns the stats command with subcommands.
// Stats returns aggregated, derived facts.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated statistics",
		Subcommands: []*cli.Command{
			statsTelemetryCommand(),
		},
	}
}

func statsTelemetryCommand() *cli.Command {
	return &cli.Command{
		Name:      "telemetry",
		Usage:     "Show run/policy/backend counters from a snapshot file",
		ArgsUsage: "<snapshot-file>",
		Flags:     TUIReadOnlyFlags(),
		Action:    statsTelemetryAction,
	}
}

func statsTelemetryAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("snapshot-file required (written by `run --telemetry-snapshot-out`)", 1)
	}

	snap, err := loadTelemetrySnapshot(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading telemetry snapshot: %v", err), 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_telemetry", snap)
	}

	return r.Render(snap)
}

// loadTelemetrySnapshot reads a Snapshot previously written to disk by
// `run --telemetry-snapshot-out`. Telemetry is per-process (see
// telemetry.Collector's doc comment), so cross-invocation inspection
// goes through this file handoff rather than a live query.
func loadTelemetrySnapshot(path string) (*telemetry.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap telemetry.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &snap, nil
}
