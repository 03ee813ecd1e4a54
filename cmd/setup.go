package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the example configuration to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := r.configPath
	if path == "" {
		path = defaultConfigPath
	}

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)
	return r.writePlain("✓ Wrote %s\n\nNext steps:\n"+
		"1. Set [source] and [target] url in %s\n"+
		"2. Run 'dsx setup endpoint --side target --curl \"...\"' to store an API token\n"+
		"3. Run 'dsx catalog status' to check both catalogs\n", path, path)
}

// SetupDatabase initializes the job history database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); err != nil {
			r.logger.Info("config file not found, creating from template", "path", r.configPath)
			if err := shared.CreateConfigFile(r.configPath); err != nil {
				r.logger.Warn("failed to create config file, using defaults", "error", err)
			}
		}
	}

	path := r.config.Database.Path
	r.logger.Info("initializing database", "path", path)

	db, err := shared.NewDatabase(path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrationsContext(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	applied, err := shared.AppliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", path)
	return r.writePlain("✓ Database ready at %s (%d migrations applied)\n", path, len(applied))
}

// SetupEndpoint stores a catalog URL and API token taken from a browser "Copy as cURL" command.
func (r *Runner) SetupEndpoint(ctx context.Context, cmd *cli.Command) error {
	curlCmd := cmd.String("curl")
	curlFile := cmd.String("curl-file")
	side := cmd.String("side")

	if curlCmd == "" && curlFile == "" {
		return fmt.Errorf("%w: either --curl or --curl-file must be provided", shared.ErrMissingArgument)
	}
	if curlCmd != "" && curlFile != "" {
		return fmt.Errorf("%w: cannot specify both --curl and --curl-file", shared.ErrInvalidArgument)
	}
	if side != "source" && side != "target" {
		return fmt.Errorf("%w: --side must be source or target, got %q", shared.ErrInvalidFlag, side)
	}

	var (
		req *shared.CurlRequest
		err error
	)
	if curlFile != "" {
		if req, err = shared.ParseCurlFile(curlFile); err != nil {
			return fmt.Errorf("failed to parse cURL file: %w", err)
		}
		r.logger.Info("parsed cURL from file", "file", curlFile)
	} else {
		if req, err = shared.ParseCurlCommand(curlCmd); err != nil {
			return fmt.Errorf("failed to parse cURL command: %w", err)
		}
		r.logger.Info("parsed cURL command")
	}

	endpoint, err := req.Endpoint()
	if err != nil {
		return err
	}

	if cmd.Bool("check") {
		ep, err := models.NewCatalogEndpoint(endpoint.URL, endpoint.Token)
		if err != nil {
			return err
		}
		status, err := r.client(ep).Status(ctx)
		if err != nil {
			return fmt.Errorf("endpoint check failed: %w", err)
		}
		r.logger.Info("endpoint reachable", "site", status.SiteTitle, "version", status.CKANVersion)
	}

	if side == "source" {
		r.config.Source = endpoint
	} else {
		r.config.Target = endpoint
	}

	path := r.configPath
	if path == "" {
		path = defaultConfigPath
	}
	if err := shared.SaveConfig(path, r.config); err != nil {
		return err
	}

	r.logger.Info("endpoint saved", "side", side, "url", endpoint.URL, "path", path)
	return r.writePlain("✓ %s catalog set to %s\nToken saved to: %s\n", side, endpoint.URL, path)
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create the config file, job database and catalog credentials",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example config.toml",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize the job history database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:  "endpoint",
				Usage: "Store a catalog URL and token from a browser cURL command",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "curl",
						Usage: "cURL command copied from the browser's network tab",
					},
					&cli.StringFlag{
						Name:  "curl-file",
						Usage: "File containing the cURL command",
					},
					&cli.StringFlag{
						Name:  "side",
						Usage: "Which catalog the command targets: source or target",
						Value: "target",
					},
					&cli.BoolFlag{
						Name:  "check",
						Usage: "Call status_show with the new credentials before saving",
					},
				},
				Action: r.SetupEndpoint,
			},
		},
	}
}
