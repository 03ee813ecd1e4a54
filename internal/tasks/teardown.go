package tasks

import (
	"context"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/services"
	"github.com/desertthunder/dsx/internal/shared"
)

// Teardown deletes a dataset from target, resources first and one at a time, then the dataset.
//
// Deleting the dataset directly leaves its tables orphaned in the datastore, so every resource
// is removed on its own before the final purge. With SoftDelete set the dataset is only
// marked deleted via package_delete.
func (e *Engine) Teardown(ctx context.Context, target services.Catalog, key string, progress chan<- ProgressUpdate) (*Outcome, error) {
	out := &Outcome{
		Mode:      models.ModeTeardown,
		Dataset:   key,
		Target:    target.Endpoint().URL,
		State:     models.StateStart,
		StartedAt: e.now(),
	}
	logger := shared.WithLogger(e.logger, "dataset", key)

	fail := func(entity, name, action string, err error) (*Outcome, error) {
		out.Failure = &StepError{State: models.StateTeardown, Entity: entity, Name: name, Action: action, Err: err}
		out.FinishedAt = e.now()
		logger.Error("teardown stopped", "step", out.Failure.Step(), "error", err)
		return out, out.Failure
	}

	e.sendProgress(progress, fetchTargetUpdate(key, out.Target))
	snap, err := FetchSnapshot(ctx, target, key)
	if err != nil {
		return fail("dataset", key, "package_show", err)
	}
	out.Dataset = snap.Dataset.Name
	out.DatasetID = snap.Dataset.ID

	for i, r := range snap.Resources {
		e.sendProgress(progress, teardownUpdate(i+1, len(snap.Resources), r))
		if err := target.ResourceDelete(ctx, r.ID); err != nil {
			return fail("resource", r.Name, "resource_delete", err)
		}
		out.ResourcesDeleted++
		logger.Debug("resource deleted", "name", r.Name, "id", r.ID)
	}

	e.sendProgress(progress, purgeUpdate(snap.Dataset.Name, !e.opts.SoftDelete))
	if e.opts.SoftDelete {
		err = target.PackageDelete(ctx, snap.Dataset.ID)
	} else {
		err = target.DatasetPurge(ctx, snap.Dataset.ID)
	}
	if err != nil {
		action := "dataset_purge"
		if e.opts.SoftDelete {
			action = "package_delete"
		}
		return fail("dataset", snap.Dataset.Name, action, err)
	}

	out.State = models.StateTeardown
	out.FinishedAt = e.now()
	logger.Info("dataset removed", "resources", out.ResourcesDeleted, "purged", !e.opts.SoftDelete)
	return out, nil
}

// Publish makes an existing target dataset public right away, with the engine's retry budget.
// It is the standalone retry for a run whose deferred publish failed.
func (e *Engine) Publish(ctx context.Context, target services.Catalog, key string) (*Outcome, error) {
	out := &Outcome{
		Mode:      models.ModePublish,
		Dataset:   key,
		Target:    target.Endpoint().URL,
		State:     models.StateTablesReady,
		StartedAt: e.now(),
	}

	snap, err := FetchSnapshot(ctx, target, key)
	if err != nil {
		out.Failure = &StepError{State: models.StatePublished, Entity: "dataset", Name: key, Action: "package_show", Err: err}
		out.FinishedAt = e.now()
		return out, out.Failure
	}
	out.Dataset = snap.Dataset.Name
	out.DatasetID = snap.Dataset.ID

	now := *e.publisher
	now.Delay = 0
	if err := now.Schedule(ctx, target, snap.Dataset.ID).Wait(ctx); err != nil {
		out.Failure = &StepError{State: models.StatePublished, Entity: "dataset", Name: snap.Dataset.Name, Action: "package_patch", Err: err}
		out.FinishedAt = e.now()
		return out, out.Failure
	}

	out.Published = true
	out.State = models.StatePublished
	out.FinishedAt = e.now()
	return out, nil
}
