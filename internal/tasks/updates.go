package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/dsx/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	FetchSource Phase = iota
	FetchTarget
	PlanChanges
	WriteDataset
	WriteResources
	LoadTables
	LoadBatch
	Publish
	Teardown
	BatchMigrate
)

func (p Phase) String() string {
	switch p {
	case FetchSource:
		return "fetch_source"
	case FetchTarget:
		return "fetch_target"
	case PlanChanges:
		return "plan"
	case WriteDataset:
		return "write_dataset"
	case WriteResources:
		return "write_resources"
	case LoadTables:
		return "load_tables"
	case LoadBatch:
		return "load_batch"
	case Publish:
		return "publish"
	case Teardown:
		return "teardown"
	case BatchMigrate:
		return "batch_migrate"
	default:
		return ""
	}
}

func fetchSourceUpdate(key, origin string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSource,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Reading %s from %s...", key, origin),
	}
}

func fetchTargetUpdate(key, origin string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchTarget,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Looking up %s on %s...", key, origin),
	}
}

func planUpdate(plan *models.MigrationPlan) ProgressUpdate {
	return ProgressUpdate{
		Phase: PlanChanges,
		Step:  1,
		Total: 1,
		Message: fmt.Sprintf("Plan: dataset %s, %d resource(s) to create, %d to update",
			plan.Dataset, models.Count(plan.Resources, models.ActionCreate), models.Count(plan.Resources, models.ActionUpdate)),
		Data: plan,
	}
}

func datasetUpdate(action models.Action, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteDataset,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("%s dataset %s (private)", action, name),
	}
}

func resourceUpdate(step, total int, action models.Action, r models.Resource) ProgressUpdate {
	kind := "link"
	if r.IsUpload() {
		kind = "upload"
	}
	return ProgressUpdate{
		Phase:   WriteResources,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s resource %s (%s)", step, total, action, r.Name, kind),
	}
}

func tableUpdate(step, total int, action models.Action, name string) ProgressUpdate {
	verb := "Loading"
	if action == models.ActionUpdate {
		verb = "Replacing"
	}
	return ProgressUpdate{
		Phase:   LoadTables,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s table for %s", step, total, verb, name),
	}
}

func batchUpdate(step, total, rows int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadBatch,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("  batch %d/%d (%d rows)", step, total, rows),
	}
}

func publishScheduledUpdate(name string, delay time.Duration) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Publish,
		Step:    0,
		Total:   1,
		Message: fmt.Sprintf("Publishing %s in %s...", name, delay),
	}
}

func publishedUpdate(name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Publish,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("✓ %s is public", name),
	}
}

func teardownUpdate(step, total int, r models.Resource) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Teardown,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Deleting resource %s", step, total, r.Name),
	}
}

func purgeUpdate(name string, hard bool) ProgressUpdate {
	msg := fmt.Sprintf("Purging dataset %s", name)
	if !hard {
		msg = fmt.Sprintf("Deleting dataset %s", name)
	}
	return ProgressUpdate{
		Phase:   Teardown,
		Step:    1,
		Total:   1,
		Message: msg,
	}
}

func batchCompletedUpdate(step, total int, key string, outcome *Outcome) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BatchMigrate,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%s)", step, total, key, outcome.State),
		Data:    outcome,
	}
}

func batchFailedUpdate(step, total int, key string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BatchMigrate,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, key, err),
	}
}
