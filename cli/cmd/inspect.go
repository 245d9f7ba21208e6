package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tabularun/tabularun/capsule"
	"github.com/tabularun/tabularun/capsule/filestore"
	"github.com/tabularun/tabularun/capsule/lodestore"
	"github.com/tabularun/tabularun/cli/render"
	"github.com/tabularun/tabularun/registry"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect returns a deep view of a single entity.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single entity (dataset, capsule)",
		Subcommands: []*cli.Command{
			inspectDatasetCommand(),
			inspectCapsuleCommand(),
		},
	}
}

func inspectDatasetCommand() *cli.Command {
	return &cli.Command{
		Name:      "dataset",
		Usage:     "Inspect a dataset by ID",
		ArgsUsage: "<dataset-id>",
		Flags: append(TUIReadOnlyFlags(),
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
		),
		Action: inspectDatasetAction,
	}
}

func inspectDatasetAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("dataset-id required", 1)
	}
	datasetID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	reg, err := registry.Load(c.String("registry"), c.String("datasets-dir"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading dataset registry: %v", err), 1)
	}

	desc, ok := reg.Get(datasetID)
	if !ok {
		return cli.Exit(fmt.Sprintf("dataset not found: %s", datasetID), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_dataset", desc)
	}

	return r.Render(desc)
}

func inspectCapsuleCommand() *cli.Command {
	return &cli.Command{
		Name:      "capsule",
		Usage:     "Inspect a run capsule by run ID",
		ArgsUsage: "<run-id>",
		Flags:     append(TUIReadOnlyFlags(), capsuleStoreFlags()...),
		Action:    inspectCapsuleAction,
	}
}

func inspectCapsuleAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("run-id required", 1)
	}
	runID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	store, err := openCapsuleStore(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	cap, found, err := store.Get(context.Background(), runID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading capsule: %v", err), 1)
	}
	if !found {
		return cli.Exit(fmt.Sprintf("capsule not found: %s", runID), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_capsule", cap)
	}

	return r.Render(cap)
}

// capsuleStoreFlags are the flags shared by every command that reads
// from a capsule.Store backend.
func capsuleStoreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "capsule-backend",
			Usage: "Capsule store backend: file, lode-fs, lode-s3",
			Value: "file",
		},
		&cli.StringFlag{
			Name:  "capsule-path",
			Usage: "Capsule store path (file and lode-fs backends)",
		},
		&cli.StringFlag{
			Name:  "capsule-bucket",
			Usage: "Capsule store S3 bucket (lode-s3 backend)",
		},
		&cli.StringFlag{
			Name:  "capsule-region",
			Usage: "Capsule store S3 region (lode-s3 backend)",
		},
	}
}

// openCapsuleStore builds a capsule.Store from the shared capsule-*
// flags, dispatching on --capsule-backend.
func openCapsuleStore(c *cli.Context) (capsule.Store, error) {
	switch c.String("capsule-backend") {
	case "file", "":
		path := c.String("capsule-path")
		if path == "" {
			return nil, fmt.Errorf("--capsule-path is required for the file backend")
		}
		return filestore.Open(path)
	case "lode-fs":
		path := c.String("capsule-path")
		if path == "" {
			return nil, fmt.Errorf("--capsule-path is required for the lode-fs backend")
		}
		return lodestore.OpenFS(path)
	case "lode-s3":
		return lodestore.OpenS3(lodestore.S3Config{
			Bucket: c.String("capsule-bucket"),
			Region: c.String("capsule-region"),
			Prefix: c.String("capsule-path"),
		})
	default:
		return nil, fmt.Errorf("unknown capsule backend: %s", c.String("capsule-backend"))
	}
}
