package models

import (
	"fmt"
	"time"
)

// MigrationJob records one run, teardown or publish against a target catalog.
type MigrationJob struct {
	id             string
	sequence       int
	mode           JobMode
	sourceURL      string
	targetURL      string
	dataset        string
	datasetID      string
	state          State
	failedStep     string
	errorMessage   string
	resourcesTotal int
	tablesTotal    int
	rowsLoaded     int
	startedAt      *time.Time
	completedAt    *time.Time
	createdAt      time.Time
	updatedAt      time.Time
	deletedAt      *time.Time
}

// NewMigrationJob creates a job in the START state stamped with the current time.
func NewMigrationJob(sequence int, mode JobMode, sourceURL, targetURL, dataset string) *MigrationJob {
	now := time.Now()
	return &MigrationJob{
		sequence:  sequence,
		mode:      mode,
		sourceURL: sourceURL,
		targetURL: targetURL,
		dataset:   dataset,
		state:     StateStart,
		createdAt: now,
		updatedAt: now,
	}
}

func (j *MigrationJob) ID() string              { return j.id }
func (j *MigrationJob) Sequence() int           { return j.sequence }
func (j *MigrationJob) Mode() JobMode           { return j.mode }
func (j *MigrationJob) SourceURL() string       { return j.sourceURL }
func (j *MigrationJob) TargetURL() string       { return j.targetURL }
func (j *MigrationJob) Dataset() string         { return j.dataset }
func (j *MigrationJob) DatasetID() string       { return j.datasetID }
func (j *MigrationJob) State() State            { return j.state }
func (j *MigrationJob) FailedStep() string      { return j.failedStep }
func (j *MigrationJob) ErrorMessage() string    { return j.errorMessage }
func (j *MigrationJob) ResourcesTotal() int     { return j.resourcesTotal }
func (j *MigrationJob) TablesTotal() int        { return j.tablesTotal }
func (j *MigrationJob) RowsLoaded() int         { return j.rowsLoaded }
func (j *MigrationJob) StartedAt() *time.Time   { return j.startedAt }
func (j *MigrationJob) CompletedAt() *time.Time { return j.completedAt }
func (j *MigrationJob) CreatedAt() time.Time    { return j.createdAt }
func (j *MigrationJob) UpdatedAt() time.Time    { return j.updatedAt }
func (j *MigrationJob) DeletedAt() *time.Time   { return j.deletedAt }

func (j *MigrationJob) SetID(id string)             { j.id = id }
func (j *MigrationJob) SetSequence(seq int)         { j.sequence = seq }
func (j *MigrationJob) SetDatasetID(id string)      { j.datasetID = id }
func (j *MigrationJob) SetState(s State)            { j.state = s }
func (j *MigrationJob) SetFailedStep(step string)   { j.failedStep = step }
func (j *MigrationJob) SetErrorMessage(msg string)  { j.errorMessage = msg }
func (j *MigrationJob) SetResourcesTotal(n int)     { j.resourcesTotal = n }
func (j *MigrationJob) SetTablesTotal(n int)        { j.tablesTotal = n }
func (j *MigrationJob) SetRowsLoaded(n int)         { j.rowsLoaded = n }
func (j *MigrationJob) SetStartedAt(t *time.Time)   { j.startedAt = t }
func (j *MigrationJob) SetCompletedAt(t *time.Time) { j.completedAt = t }
func (j *MigrationJob) SetCreatedAt(t time.Time)    { j.createdAt = t }
func (j *MigrationJob) SetUpdatedAt(t time.Time)    { j.updatedAt = t }
func (j *MigrationJob) SetDeletedAt(t *time.Time)   { j.deletedAt = t }

// Failed reports whether the job recorded an error.
func (j *MigrationJob) Failed() bool {
	return j.errorMessage != ""
}

// Duration is the wall time between start and completion, or zero while running.
func (j *MigrationJob) Duration() time.Duration {
	if j.startedAt == nil || j.completedAt == nil {
		return 0
	}
	return j.completedAt.Sub(*j.startedAt)
}

// Validate checks the fields required by the jobs table.
func (j *MigrationJob) Validate() error {
	if !j.mode.Valid() {
		return fmt.Errorf("invalid job mode %q", j.mode)
	}
	if j.targetURL == "" {
		return fmt.Errorf("target url is required")
	}
	if j.mode == ModeRun && j.sourceURL == "" {
		return fmt.Errorf("source url is required for a run")
	}
	if j.dataset == "" {
		return fmt.Errorf("dataset is required")
	}
	if j.state == "" {
		return fmt.Errorf("state is required")
	}
	if j.resourcesTotal < 0 || j.tablesTotal < 0 || j.rowsLoaded < 0 {
		return fmt.Errorf("counts cannot be negative")
	}
	return nil
}
