package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/shared"
	"github.com/desertthunder/dsx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// JobFromOutcome converts an engine outcome into a job record ready to be stored.
func JobFromOutcome(out *tasks.Outcome) *models.MigrationJob {
	job := models.NewMigrationJob(0, out.Mode, out.Source, out.Target, out.Dataset)
	job.SetDatasetID(out.DatasetID)
	job.SetState(out.State)
	job.SetTablesTotal(out.TablesLoaded)
	job.SetRowsLoaded(out.RowsLoaded)

	if out.Mode == models.ModeTeardown {
		job.SetResourcesTotal(out.ResourcesDeleted)
	} else {
		job.SetResourcesTotal(out.ResourcesWritten)
	}

	if !out.StartedAt.IsZero() {
		started := out.StartedAt
		job.SetStartedAt(&started)
	}
	if !out.FinishedAt.IsZero() {
		finished := out.FinishedAt
		job.SetCompletedAt(&finished)
	}
	if out.Failure != nil {
		job.SetFailedStep(out.Failure.Step())
		job.SetErrorMessage(out.Failure.Err.Error())
	}
	return job
}

// recordJob stores the outcome in the job history. Failures are logged, never returned.
func (r *Runner) recordJob(ctx context.Context, out *tasks.Outcome) {
	if out == nil {
		return
	}
	repo := r.jobRepository(ctx)
	if repo == nil {
		return
	}

	job := JobFromOutcome(out)
	if err := repo.Create(job); err != nil {
		r.logger.Warn("failed to record job", "dataset", out.Dataset, "error", err)
		return
	}
	r.logger.Debug("job recorded", "sequence", job.Sequence(), "id", job.ID())
}

// JobsList prints recorded jobs, newest first.
func (r *Runner) JobsList(ctx context.Context, cmd *cli.Command) error {
	repo := r.jobRepository(ctx)
	if repo == nil {
		return fmt.Errorf("%w: job history database %s could not be opened", shared.ErrMissingConfig, r.config.Database.Path)
	}

	criteria := map[string]any{
		"dataset": cmd.String("dataset"),
		"mode":    cmd.String("mode"),
		"state":   cmd.String("state"),
		"limit":   int(cmd.Int("limit")),
	}
	if mode := cmd.String("mode"); mode != "" && !models.JobMode(mode).Valid() {
		return fmt.Errorf("%w: unknown mode %q", shared.ErrInvalidFlag, mode)
	}

	jobs, err := repo.List(criteria)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	return r.render(cmd, jobs)
}

// JobsShow prints one job, looked up by sequence number when the argument is numeric.
func (r *Runner) JobsShow(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("job")
	if ref == "" {
		return fmt.Errorf("%w: job sequence or id", shared.ErrMissingArgument)
	}

	repo := r.jobRepository(ctx)
	if repo == nil {
		return fmt.Errorf("%w: job history database %s could not be opened", shared.ErrMissingConfig, r.config.Database.Path)
	}

	var (
		job *models.MigrationJob
		err error
	)
	if seq, convErr := strconv.Atoi(ref); convErr == nil {
		job, err = repo.GetBySequence(seq)
	} else {
		job, err = repo.Get(ref)
	}
	if err != nil {
		return fmt.Errorf("job %s: %w", ref, err)
	}
	return r.render(cmd, job)
}
