// submodule cmd contains command definitions
package main

import (
	"strings"

	"github.com/urfave/cli/v3"
)

// endpointFlags selects the source and/or target catalog, overriding config.toml.
func endpointFlags(sides ...string) []cli.Flag {
	flags := []cli.Flag{}
	for _, side := range sides {
		flags = append(flags,
			&cli.StringFlag{
				Name:  side,
				Usage: "Base URL of the " + side + " catalog",
			},
			&cli.StringFlag{
				Name:    side + "-token",
				Usage:   "API token for the " + side + " catalog",
				Sources: cli.EnvVars("DSX_" + strings.ToUpper(side) + "_TOKEN"),
			},
		)
	}
	return flags
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, json, yaml, markdown",
		Value:   "text",
	}
}

func sideFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "side",
		Usage: "Which catalog to read: source or target",
		Value: "source",
	}
}

func datasetArg() cli.Argument {
	return &cli.StringArg{
		Name:      "dataset",
		UsageText: "dataset name or id",
	}
}

// migrateCommand handles dataset migrations between two catalogs
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"mig"},
		Usage:   "Migrate datasets from the source catalog to the target catalog",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Migrate one dataset, its resources and tables, then publish it",
				ArgsUsage: "<dataset>",
				Arguments: []cli.Argument{datasetArg()},
				Flags: append(endpointFlags("source", "target"),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Rows per datastore_upsert call",
					},
					&cli.DurationFlag{
						Name:  "publish-delay",
						Usage: "Wait before making the dataset public (0 publishes immediately)",
					},
					&cli.BoolFlag{
						Name:  "no-publish",
						Usage: "Stop at TABLES_READY and leave the dataset private",
					},
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Hide per-batch progress",
					},
					&cli.StringFlag{
						Name:  "report",
						Usage: "Write a Markdown migration report to this path",
					},
					&cli.BoolFlag{
						Name:  "open",
						Usage: "Open the migrated dataset in a browser",
					},
					formatFlag(),
				),
				Action: r.MigrateRun,
			},
			{
				Name:      "plan",
				Aliases:   []string{"diff"},
				Usage:     "Show what a run would create or update without writing",
				ArgsUsage: "<dataset>",
				Arguments: []cli.Argument{datasetArg()},
				Flags: append(endpointFlags("source", "target"),
					&cli.StringFlag{
						Name:  "report",
						Usage: "Write the plan as Markdown to this path",
					},
					formatFlag(),
				),
				Action: r.MigratePlan,
			},
			{
				Name:      "publish",
				Usage:     "Make an existing target dataset public",
				ArgsUsage: "<dataset>",
				Arguments: []cli.Argument{datasetArg()},
				Flags:     append(endpointFlags("target"), formatFlag()),
				Action:    r.MigratePublish,
			},
			{
				Name:      "teardown",
				Usage:     "Delete a dataset and all of its resources from the target",
				ArgsUsage: "<dataset>",
				Arguments: []cli.Argument{datasetArg()},
				Flags: append(endpointFlags("target"),
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Confirm the deletion",
					},
					&cli.BoolFlag{
						Name:  "soft-delete",
						Usage: "Use package_delete instead of dataset_purge",
					},
					formatFlag(),
				),
				Action: r.MigrateTeardown,
			},
			{
				Name:      "batch",
				Usage:     "Migrate several datasets concurrently",
				ArgsUsage: "<dataset>...",
				Flags: append(endpointFlags("source", "target"),
					&cli.StringSliceFlag{
						Name:    "datasets",
						Aliases: []string{"d"},
						Usage:   "Dataset names (repeatable or comma-separated)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Datasets migrated at once (max 8)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Rows per datastore_upsert call",
					},
					&cli.DurationFlag{
						Name:  "publish-delay",
						Usage: "Wait before making each dataset public",
					},
					&cli.BoolFlag{
						Name:  "no-publish",
						Usage: "Leave every dataset private",
					},
					formatFlag(),
				),
				Action: r.MigrateBatch,
			},
		},
	}
}

// catalogCommand handles read-only inspection of one catalog
func catalogCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "catalog",
		Aliases: []string{"cat"},
		Usage:   "Inspect a catalog instance",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show site title and version of both catalogs",
				Flags:  append(endpointFlags("source", "target"), formatFlag()),
				Action: r.CatalogStatus,
			},
			{
				Name:      "show",
				Usage:     "Show a dataset snapshot as the migration reads it",
				ArgsUsage: "<dataset>",
				Arguments: []cli.Argument{datasetArg()},
				Flags:     append(endpointFlags("source", "target"), sideFlag(), formatFlag()),
				Action:    r.CatalogShow,
			},
			{
				Name:      "table",
				Usage:     "Export a resource's datastore table as CSV",
				ArgsUsage: "<resource-id>",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "resource"},
				},
				Flags: append(endpointFlags("source", "target"), sideFlag(),
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write CSV to this file instead of stdout",
					},
				),
				Action: r.CatalogTable,
			},
		},
	}
}

// jobsCommand handles the local migration history
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect recorded migration jobs",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recorded jobs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dataset", Usage: "Only jobs for this dataset"},
					&cli.StringFlag{Name: "mode", Usage: "Only jobs of this mode: run, teardown, publish"},
					&cli.StringFlag{Name: "state", Usage: "Only jobs that ended in this state"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of jobs", Value: 20},
					formatFlag(),
				},
				Action: r.JobsList,
			},
			{
				Name:      "show",
				Usage:     "Show one job by sequence number or id",
				ArgsUsage: "<job>",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "job"},
				},
				Flags:  []cli.Flag{formatFlag()},
				Action: r.JobsShow,
			},
		},
	}
}
