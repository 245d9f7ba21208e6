package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tabularun/tabularun/cli/render"
	"github.com/tabularun/tabularun/endpointpool"
)

// ResolveEndpointResponse is the response for the debug resolve
// endpoint command.
type ResolveEndpointResponse struct {
	Endpoint string `json:"endpoint"`
	Strategy string `json:"strategy"`
	PoolSize int    `json:"pool_size"`
}

// DebugCommand returns the debug command with subcommands.
// Debug commands are opt-in diagnostic tools, read-only by default.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools (resolve remote-sandbox endpoint)",
		Subcommands: []*cli.Command{
			debugResolveCommand(),
		},
	}
}

func debugResolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Resolve entities for debugging",
		Subcommands: []*cli.Command{
			debugResolveEndpointCommand(),
		},
	}
}

func debugResolveEndpointCommand() *cli.Command {
	return &cli.Command{
		Name:      "endpoint",
		Usage:     "Resolve a remote-sandbox endpoint from a pool config",
		ArgsUsage: "<sticky-key>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:     "pool-config",
				Usage:    "Path to endpoint pool config file (JSON array of endpoint URLs)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Strategy: round_robin or sticky",
				Value: string(endpointpool.StrategyRoundRobin),
			},
		),
		Action: debugResolveEndpointAction,
	}
}

func debugResolveEndpointAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for debug commands
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}

	endpoints, err := loadDebugEndpoints(c.String("pool-config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load endpoint pool: %v", err), 1)
	}

	strategy := endpointpool.Strategy(c.String("strategy"))
	pool, err := endpointpool.New(endpoints, strategy)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to construct endpoint pool: %v", err), 1)
	}

	stickyKey := c.Args().First()

	endpoint, err := pool.Select(stickyKey)
	if err != nil {
		return cli.Exit(fmt.Sprintf("endpoint resolution failed: %v", err), 1)
	}

	resp := &ResolveEndpointResponse{
		Endpoint: endpoint,
		Strategy: string(strategy),
		PoolSize: pool.Len(),
	}

	return r.Render(resp)
}

// loadDebugEndpoints loads a JSON array of endpoint URLs for debug commands.
func loadDebugEndpoints(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var endpoints []string
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	return endpoints, nil
}
