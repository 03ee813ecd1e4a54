package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/dsx/internal/formatter"
	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/services"
	"github.com/desertthunder/dsx/internal/shared"
	"github.com/desertthunder/dsx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// CatalogStatusView is one row of `catalog status`.
type CatalogStatusView struct {
	Side   string           `json:"side" yaml:"side"`
	URL    string           `json:"url" yaml:"url"`
	Status *services.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Error  string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// CatalogStatus checks that both configured catalogs answer status_show.
func (r *Runner) CatalogStatus(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	views := []CatalogStatusView{}
	failed := 0
	for _, side := range []string{"source", "target"} {
		ep, err := r.endpoint(cmd, side)
		if err != nil {
			views = append(views, CatalogStatusView{Side: side, Error: err.Error()})
			failed++
			continue
		}

		view := CatalogStatusView{Side: side, URL: ep.URL}
		status, err := r.client(ep).Status(ctx)
		if err != nil {
			r.logger.Warn("catalog unreachable", "side", side, "url", ep.URL, "error", err)
			view.Error = err.Error()
			failed++
		} else {
			view.Status = status
		}
		views = append(views, view)
	}

	if format == formatter.FormatText {
		for _, v := range views {
			var err error
			switch {
			case v.Error != "":
				err = r.writePlain("✗ %-6s %s: %s\n", v.Side, v.URL, v.Error)
			default:
				err = r.writePlain("✓ %-6s %s: %s (CKAN %s)\n", v.Side, v.URL, v.Status.SiteTitle, v.Status.CKANVersion)
			}
			if err != nil {
				return err
			}
		}
	} else if err := r.render(cmd, views); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d catalog(s) unavailable", shared.ErrTransport, failed)
	}
	return nil
}

// CatalogShow prints a dataset as the migration engine reads it.
func (r *Runner) CatalogShow(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("dataset")
	if key == "" {
		return fmt.Errorf("%w: dataset name or id", shared.ErrMissingArgument)
	}
	ep, err := r.sideEndpoint(cmd)
	if err != nil {
		return err
	}

	snap, err := tasks.FetchSnapshot(ctx, r.catalogs(ep), key)
	if err != nil {
		return err
	}
	return r.render(cmd, snap)
}

// CatalogTable exports one datastore table as CSV.
func (r *Runner) CatalogTable(ctx context.Context, cmd *cli.Command) error {
	resourceID := cmd.StringArg("resource")
	if resourceID == "" {
		return fmt.Errorf("%w: resource id", shared.ErrMissingArgument)
	}
	ep, err := r.sideEndpoint(cmd)
	if err != nil {
		return err
	}

	table, err := tasks.FetchTable(ctx, r.catalogs(ep), resourceID)
	if err != nil {
		return fmt.Errorf("failed to read table %s: %w", resourceID, err)
	}
	data, err := formatter.TableToCSV(table)
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write CSV: %w", err)
		}
		r.logger.Info("table exported", "resource", resourceID, "rows", len(table.Rows), "path", path)
		return nil
	}

	_, err = r.output.Write(data)
	return err
}

// sideEndpoint resolves the catalog named by --side.
func (r *Runner) sideEndpoint(cmd *cli.Command) (ep models.CatalogEndpoint, err error) {
	side := cmd.String("side")
	if side != "source" && side != "target" {
		return ep, fmt.Errorf("%w: --side must be source or target, got %q", shared.ErrInvalidFlag, side)
	}
	return r.endpoint(cmd, side)
}
