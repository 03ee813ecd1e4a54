package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/services"
	"github.com/desertthunder/dsx/internal/shared"
)

// StepError names the step a migration stopped at: the state being entered, the entity and the remote action.
type StepError struct {
	State  models.State
	Entity string
	Name   string
	Action string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s %q: %s: %v", e.State, e.Entity, e.Name, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is matches [shared.ErrStepFailed] so callers can tell step failures from usage errors.
func (e *StepError) Is(target error) bool { return target == shared.ErrStepFailed }

// Step is a compact label for the failed step, as stored in job history.
func (e *StepError) Step() string {
	return fmt.Sprintf("%s/%s/%s", e.State, e.Entity, e.Action)
}

type stepErrorJSON struct {
	State  models.State `json:"state" yaml:"state"`
	Entity string       `json:"entity" yaml:"entity"`
	Name   string       `json:"name" yaml:"name"`
	Action string       `json:"action" yaml:"action"`
	Error  string       `json:"error" yaml:"error"`
}

func (e *StepError) view() stepErrorJSON {
	return stepErrorJSON{State: e.State, Entity: e.Entity, Name: e.Name, Action: e.Action, Error: fmt.Sprint(e.Err)}
}

func (e *StepError) MarshalJSON() ([]byte, error) { return json.Marshal(e.view()) }

func (e *StepError) MarshalYAML() (any, error) { return e.view(), nil }

// Outcome is the result of a run, teardown or publish. It is returned even when the operation fails.
type Outcome struct {
	Mode             models.JobMode        `json:"mode" yaml:"mode"`
	Dataset          string                `json:"dataset" yaml:"dataset"`
	Source           string                `json:"source,omitempty" yaml:"source,omitempty"`
	Target           string                `json:"target" yaml:"target"`
	State            models.State          `json:"state" yaml:"state"`
	Plan             *models.MigrationPlan `json:"plan,omitempty" yaml:"plan,omitempty"`
	DatasetID        string                `json:"dataset_id,omitempty" yaml:"dataset_id,omitempty"`
	Failure          *StepError            `json:"failure,omitempty" yaml:"failure,omitempty"`
	Published        bool                  `json:"published" yaml:"published"`
	ResourcesWritten int                   `json:"resources_written" yaml:"resources_written"`
	ResourcesDeleted int                   `json:"resources_deleted" yaml:"resources_deleted"`
	TablesLoaded     int                   `json:"tables_loaded" yaml:"tables_loaded"`
	RowsLoaded       int                   `json:"rows_loaded" yaml:"rows_loaded"`
	Batches          int                   `json:"batches" yaml:"batches"`
	StartedAt        time.Time             `json:"started_at" yaml:"started_at"`
	FinishedAt       time.Time             `json:"finished_at" yaml:"finished_at"`

	// Pending is set when a run was asked not to wait for its publish.
	Pending *PendingPublish `json:"-" yaml:"-"`
}

// Duration is the wall time between start and finish.
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Preview is a dry-run: both snapshots and the plan a run would execute.
type Preview struct {
	Source *models.Snapshot      `json:"source" yaml:"source"`
	Target *models.Snapshot      `json:"target,omitempty" yaml:"target,omitempty"`
	Plan   *models.MigrationPlan `json:"plan" yaml:"plan"`
}

// EngineOpts holds the tunables shared by every run of an [Engine].
type EngineOpts struct {
	BatchSize       int
	PublishDelay    time.Duration
	PublishAttempts int
	// SoftDelete makes teardown finish with package_delete instead of dataset_purge.
	SoftDelete bool
}

// RunOpts adjusts a single run.
type RunOpts struct {
	// SkipPublish stops the run at TABLES_READY with the dataset private.
	SkipPublish bool
	// Detach returns as soon as the publish is scheduled; see [Outcome.Pending].
	Detach bool
}

// Engine migrates one dataset between two catalogs. It keeps no per-run state and may run
// several migrations concurrently.
type Engine struct {
	opts      EngineOpts
	loader    *Loader
	publisher *Publisher
	logger    *log.Logger
	now       func() time.Time
}

// NewEngine creates an Engine. Zero-valued options fall back to their defaults, except
// PublishDelay where zero means publish immediately.
func NewEngine(opts EngineOpts, logger *log.Logger) *Engine {
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	if opts.PublishDelay < 0 {
		opts.PublishDelay = DefaultPublishDelay
	}
	loader := NewLoader(opts.BatchSize, logger)
	opts.BatchSize = loader.BatchSize
	publisher := NewPublisher(opts.PublishDelay, opts.PublishAttempts, logger)
	opts.PublishAttempts = publisher.Attempts

	return &Engine{opts: opts, loader: loader, publisher: publisher, logger: logger, now: time.Now}
}

// Options returns the effective options after defaults.
func (e *Engine) Options() EngineOpts { return e.opts }

// Publisher exposes the engine's publisher so callers can tune retries.
func (e *Engine) Publisher() *Publisher { return e.publisher }

// sendProgress sends a progress update through the channel without blocking.
func (e *Engine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Preview reads both sides and plans without writing anything.
func (e *Engine) Preview(ctx context.Context, source, target services.Catalog, key string) (*Preview, error) {
	src, err := FetchSnapshot(ctx, source, key)
	if err != nil {
		return nil, err
	}
	dst, err := FetchTargetSnapshot(ctx, target, src.Dataset.Name)
	if err != nil {
		return nil, err
	}
	plan := Plan(*src, dst)
	return &Preview{Source: src, Target: dst, Plan: &plan}, nil
}

// Run migrates key from source to target:
// START → DATASET_READY → RESOURCES_READY → TABLES_READY → PUBLISHED.
//
// Every step is sequential and the first failure stops the run with a [*StepError]; nothing is
// retried or rolled back. The dataset is written private and only made public by the deferred
// publish, so an aborted run never leaves a public dataset behind.
func (e *Engine) Run(
	ctx context.Context,
	source, target services.Catalog,
	key string,
	opts RunOpts,
	progress chan<- ProgressUpdate,
) (*Outcome, error) {
	out := &Outcome{
		Mode:      models.ModeRun,
		Dataset:   key,
		Source:    source.Endpoint().URL,
		Target:    target.Endpoint().URL,
		State:     models.StateStart,
		StartedAt: e.now(),
	}
	logger := shared.WithLogger(e.logger, "dataset", key)

	fail := func(entity, name, action string, err error) (*Outcome, error) {
		out.Failure = &StepError{State: out.State.Next(), Entity: entity, Name: name, Action: action, Err: err}
		out.FinishedAt = e.now()
		logger.Error("migration stopped", "step", out.Failure.Step(), "error", err)
		return out, out.Failure
	}

	e.sendProgress(progress, fetchSourceUpdate(key, out.Source))
	src, err := FetchSnapshot(ctx, source, key)
	if err != nil {
		return fail("dataset", key, "package_show", err)
	}
	out.Dataset = src.Dataset.Name

	e.sendProgress(progress, fetchTargetUpdate(src.Dataset.Name, out.Target))
	org, err := target.OrganizationShow(ctx, src.Organization.Name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			err = fmt.Errorf("%w: %q on %s: %w", shared.ErrOrganizationMissing, src.Organization.Name, out.Target, err)
		}
		return fail("organization", src.Organization.Name, "organization_show", err)
	}

	dst, err := FetchTargetSnapshot(ctx, target, src.Dataset.Name)
	if err != nil {
		return fail("dataset", src.Dataset.Name, "package_show", err)
	}

	plan := Plan(*src, dst)
	out.Plan = &plan
	for _, w := range plan.Warnings {
		logger.Warn(w)
	}
	e.sendProgress(progress, planUpdate(&plan))

	e.sendProgress(progress, datasetUpdate(plan.Dataset, src.Dataset.Name))
	datasetID, err := e.writeDataset(ctx, target, src, org, &plan)
	if err != nil {
		return fail("dataset", src.Dataset.Name, datasetAction(plan.Dataset), err)
	}
	out.DatasetID = datasetID
	out.State = models.StateDatasetReady
	logger.Info("dataset ready", "id", datasetID, "action", plan.Dataset)

	targetIDs := make(map[string]string, len(plan.Order))
	for i, name := range plan.Order {
		r := src.Lookup(name)[0]
		action := plan.Resources[name]
		e.sendProgress(progress, resourceUpdate(i+1, len(plan.Order), action, r))

		id, err := e.writeResource(ctx, source, target, datasetID, r, action, plan.Matches[name])
		if err != nil {
			return fail("resource", name, resourceAction(action), err)
		}
		targetIDs[name] = id
		out.ResourcesWritten++
	}
	out.State = models.StateResourcesReady
	logger.Info("resources ready", "count", out.ResourcesWritten)

	tables := len(plan.Order) - models.Count(plan.Tables, models.ActionSkip)
	step := 0
	for _, name := range plan.Order {
		action := plan.Tables[name]
		if action == models.ActionSkip {
			continue
		}
		step++
		e.sendProgress(progress, tableUpdate(step, tables, action, name))

		table, err := FetchTable(ctx, source, src.Lookup(name)[0].ID)
		if err != nil {
			return fail("table", name, "datastore_search", err)
		}

		res, err := e.loader.load(ctx, target, targetIDs[name], table, action == models.ActionUpdate,
			func(step, total, rows int) { e.sendProgress(progress, batchUpdate(step, total, rows)) })
		out.Batches += res.Batches
		out.RowsLoaded += res.Rows
		if err != nil {
			var le *LoadError
			op := "datastore_upsert"
			if errors.As(err, &le) {
				op = le.Action
			}
			return fail("table", name, op, err)
		}
		out.TablesLoaded++
	}
	out.State = models.StateTablesReady
	logger.Info("tables ready", "tables", out.TablesLoaded, "rows", out.RowsLoaded, "batches", out.Batches)

	if opts.SkipPublish {
		out.FinishedAt = e.now()
		return out, nil
	}

	e.sendProgress(progress, publishScheduledUpdate(src.Dataset.Name, e.publisher.Delay))
	pending := e.publisher.Schedule(ctx, target, datasetID)
	if opts.Detach {
		out.Pending = pending
		out.FinishedAt = e.now()
		return out, nil
	}

	if err := pending.Wait(ctx); err != nil {
		return fail("dataset", src.Dataset.Name, "package_patch", err)
	}
	out.Published = true
	out.State = models.StatePublished
	out.FinishedAt = e.now()
	e.sendProgress(progress, publishedUpdate(src.Dataset.Name))
	return out, nil
}

// Resolve settles a detached publish: it waits for it and moves the outcome to PUBLISHED or records the failure.
func (e *Engine) Resolve(ctx context.Context, out *Outcome) error {
	if out.Pending == nil {
		return nil
	}
	err := out.Pending.Wait(ctx)
	out.Pending = nil
	out.FinishedAt = e.now()
	if err != nil {
		out.Failure = &StepError{State: models.StatePublished, Entity: "dataset", Name: out.Dataset, Action: "package_patch", Err: err}
		return out.Failure
	}
	out.Published = true
	out.State = models.StatePublished
	return nil
}

func (e *Engine) writeDataset(
	ctx context.Context,
	target services.Catalog,
	src *models.Snapshot,
	org *models.Organization,
	plan *models.MigrationPlan,
) (string, error) {
	payload := src.Dataset.Payload()
	payload["owner_org"] = org.ID
	payload["private"] = true

	var (
		result map[string]any
		err    error
	)
	switch plan.Dataset {
	case models.ActionCreate:
		result, err = target.PackageCreate(ctx, payload)
	default:
		payload["id"] = plan.TargetDatasetID
		for _, key := range plan.Cleared() {
			payload[key] = ""
		}
		result, err = target.PackagePatch(ctx, payload)
	}
	if err != nil {
		return "", err
	}

	id, _ := result["id"].(string)
	if id == "" {
		id = plan.TargetDatasetID
	}
	if id == "" {
		return "", fmt.Errorf("%w: no dataset id in response", shared.ErrUnexpectedResponse)
	}
	return id, nil
}

func (e *Engine) writeResource(
	ctx context.Context,
	source, target services.Catalog,
	datasetID string,
	r models.Resource,
	action models.Action,
	matchID string,
) (string, error) {
	payload := r.Payload()

	var upload *services.Content
	if r.IsUpload() {
		content, err := source.FetchContent(ctx, r.URL)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", r.URL, err)
		}
		upload = content
	}

	var (
		result map[string]any
		err    error
	)
	switch action {
	case models.ActionCreate:
		payload["package_id"] = datasetID
		result, err = target.ResourceCreate(ctx, payload, upload)
	default:
		payload["id"] = matchID
		result, err = target.ResourcePatch(ctx, payload, upload)
	}
	if err != nil {
		return "", err
	}

	id, _ := result["id"].(string)
	if id == "" {
		id = matchID
	}
	if id == "" {
		return "", fmt.Errorf("%w: no resource id in response", shared.ErrUnexpectedResponse)
	}
	return id, nil
}

func datasetAction(a models.Action) string {
	if a == models.ActionCreate {
		return "package_create"
	}
	return "package_patch"
}

func resourceAction(a models.Action) string {
	if a == models.ActionCreate {
		return "resource_create"
	}
	return "resource_patch"
}
