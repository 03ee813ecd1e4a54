package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/desertthunder/dsx/internal/formatter"
	"github.com/desertthunder/dsx/internal/shared"
	"github.com/desertthunder/dsx/internal/tasks"
	"github.com/desertthunder/dsx/internal/ui"
	"github.com/urfave/cli/v3"
)

// progressBuffer bounds the update channel. The engine drops updates when it is full.
const progressBuffer = 100

// MigrateRun migrates one dataset and waits for its publish.
func (r *Runner) MigrateRun(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("dataset")
	if key == "" {
		return fmt.Errorf("%w: dataset name or id", shared.ErrMissingArgument)
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	srcEP, dstEP, err := r.endpoints(cmd)
	if err != nil {
		return err
	}
	engine := r.engine(cmd)

	r.logger.Info("starting migration", "dataset", key, "source", srcEP.URL, "target", dstEP.URL)
	if format == formatter.FormatText {
		if err := r.writePlain("%s\nSource: %s\nTarget: %s\n\n", ui.Banner("Migrating "+key), srcEP.URL, dstEP.URL); err != nil {
			return err
		}
	}

	progress := make(chan tasks.ProgressUpdate, progressBuffer)
	done := ui.NewProgress(r.progressOutput(format), cmd.Bool("quiet")).Consume(progress)

	out, runErr := engine.Run(ctx, r.catalogs(srcEP), r.catalogs(dstEP), key,
		tasks.RunOpts{SkipPublish: cmd.Bool("no-publish")}, progress)
	close(progress)
	<-done

	r.recordJob(ctx, out)
	if err := r.report(cmd, formatter.OutcomeToMarkdown(out)); err != nil {
		return err
	}
	if format == formatter.FormatText {
		if err := r.writePlainln("%s", ui.Banner(summaryTitle(out))); err != nil {
			return err
		}
	}
	if err := r.render(cmd, out); err != nil {
		return err
	}

	if runErr == nil && cmd.Bool("open") {
		page := dstEP.DatasetURL(out.Dataset)
		if err := r.openBrowser(page); err != nil {
			r.logger.Warn("could not open browser", "url", page, "error", err)
		}
	}
	return runErr
}

// MigratePlan prints what a run would do without writing anything.
func (r *Runner) MigratePlan(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("dataset")
	if key == "" {
		return fmt.Errorf("%w: dataset name or id", shared.ErrMissingArgument)
	}
	srcEP, dstEP, err := r.endpoints(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("planning migration", "dataset", key, "source", srcEP.URL, "target", dstEP.URL)
	preview, err := r.engine(cmd).Preview(ctx, r.catalogs(srcEP), r.catalogs(dstEP), key)
	if err != nil {
		return fmt.Errorf("failed to plan %s: %w", key, err)
	}

	if err := r.report(cmd, formatter.PreviewToMarkdown(preview)); err != nil {
		return err
	}
	return r.render(cmd, preview)
}

// MigratePublish makes an already migrated dataset public immediately.
func (r *Runner) MigratePublish(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("dataset")
	if key == "" {
		return fmt.Errorf("%w: dataset name or id", shared.ErrMissingArgument)
	}
	dstEP, err := r.endpoint(cmd, "target")
	if err != nil {
		return err
	}

	r.logger.Info("publishing dataset", "dataset", key, "target", dstEP.URL)
	out, pubErr := r.engine(cmd).Publish(ctx, r.catalogs(dstEP), key)
	r.recordJob(ctx, out)
	if err := r.render(cmd, out); err != nil {
		return err
	}
	return pubErr
}

// MigrateTeardown deletes a dataset from the target. Without --yes it only lists what would go.
func (r *Runner) MigrateTeardown(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("dataset")
	if key == "" {
		return fmt.Errorf("%w: dataset name or id", shared.ErrMissingArgument)
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	dstEP, err := r.endpoint(cmd, "target")
	if err != nil {
		return err
	}
	target := r.catalogs(dstEP)

	if !cmd.Bool("yes") {
		snap, err := tasks.FetchSnapshot(ctx, target, key)
		if err != nil {
			return err
		}
		if err := r.writePlain("%s", formatter.SnapshotToText(snap)); err != nil {
			return err
		}
		warning := fmt.Sprintf("This deletes %s and %d resources from %s.", snap.Dataset.Name, len(snap.Resources), dstEP.URL)
		if err := r.writePlainln("%s", ui.Styles.Warn(warning)); err != nil {
			return err
		}
		return fmt.Errorf("%w: pass --yes to confirm the teardown", shared.ErrMissingArgument)
	}

	r.logger.Info("tearing down dataset", "dataset", key, "target", dstEP.URL)
	progress := make(chan tasks.ProgressUpdate, progressBuffer)
	done := ui.NewProgress(r.progressOutput(format), false).Consume(progress)

	out, tdErr := r.engine(cmd).Teardown(ctx, target, key, progress)
	close(progress)
	<-done

	r.recordJob(ctx, out)
	if err := r.render(cmd, out); err != nil {
		return err
	}
	return tdErr
}

// MigrateBatch migrates every dataset named by --datasets and the positional arguments.
func (r *Runner) MigrateBatch(ctx context.Context, cmd *cli.Command) error {
	keys := batchKeys(cmd.StringSlice("datasets"), cmd.Args().Slice())
	if len(keys) == 0 {
		return fmt.Errorf("%w: at least one dataset", shared.ErrMissingArgument)
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	srcEP, dstEP, err := r.endpoints(cmd)
	if err != nil {
		return err
	}

	workers := r.config.Migration.Workers
	if cmd.IsSet("workers") {
		workers = int(cmd.Int("workers"))
	}

	r.logger.Info("starting batch migration", "datasets", len(keys), "workers", workers)
	if format == formatter.FormatText {
		if err := r.writePlain("%s\n\n", ui.Banner(fmt.Sprintf("Migrating %d datasets", len(keys)))); err != nil {
			return err
		}
	}

	progress := make(chan tasks.ProgressUpdate, progressBuffer)
	done := ui.NewProgress(r.progressOutput(format), true).Consume(progress)

	engine := r.engine(cmd)
	result, err := engine.MigrateBatch(ctx, r.catalogs(srcEP), r.catalogs(dstEP), keys, tasks.BatchOpts{
		Workers: workers,
		Run:     tasks.RunOpts{SkipPublish: cmd.Bool("no-publish")},
	}, progress)
	close(progress)
	<-done
	if err != nil {
		return fmt.Errorf("batch migration interrupted: %w", err)
	}

	for _, item := range result.Items {
		r.recordJob(ctx, item.Outcome)
	}
	if format == formatter.FormatText {
		if err := r.writePlain("\n"); err != nil {
			return err
		}
	}
	if err := r.render(cmd, result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%w: %d of %d datasets failed", shared.ErrStepFailed, result.Failed, len(keys))
	}
	return nil
}

// progressOutput sends progress lines to the terminal only for text output so structured
// formats stay parseable.
func (r *Runner) progressOutput(format formatter.Format) io.Writer {
	if format != formatter.FormatText {
		return io.Discard
	}
	return r.output
}

// report writes a Markdown report when --report is set.
func (r *Runner) report(cmd *cli.Command, data []byte) error {
	path := cmd.String("report")
	if path == "" {
		return nil
	}
	if err := formatter.WriteReport(path, data); err != nil {
		return err
	}
	r.logger.Info("report written", "path", path)
	return nil
}

func summaryTitle(out *tasks.Outcome) string {
	switch {
	case out.Failure != nil:
		return "Migration Failed"
	case out.Published:
		return "Migration Complete!"
	default:
		return "Migration Complete (private)"
	}
}

// batchKeys merges flag and positional dataset names, dropping blanks and duplicates.
func batchKeys(lists ...[]string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, list := range lists {
		for _, item := range list {
			for _, key := range strings.Split(item, ",") {
				key = strings.TrimSpace(key)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}
