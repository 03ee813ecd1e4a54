package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/shared"
)

// JobRepository implements models.Repository[*models.MigrationJob] for job history.
//
// Jobs are soft-deleted and listed newest first.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, sequence, mode, source_url, target_url, dataset, dataset_id,
	state, failed_step, error_message, resources_total, tables_total,
	rows_loaded, started_at, completed_at, created_at, updated_at, deleted_at
`

// Create inserts a new job with a generated ID and the next sequence number
func (r *JobRepository) Create(job *models.MigrationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "jobs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	job.SetID(shared.GenerateID())
	job.SetSequence(sequence)

	query := `
		INSERT INTO jobs (
			id, sequence, mode, source_url, target_url, dataset, dataset_id,
			state, failed_step, error_message, resources_total, tables_total,
			rows_loaded, started_at, completed_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		job.ID(),
		job.Sequence(),
		string(job.Mode()),
		job.SourceURL(),
		job.TargetURL(),
		job.Dataset(),
		nullString(job.DatasetID()),
		string(job.State()),
		nullString(job.FailedStep()),
		nullString(job.ErrorMessage()),
		job.ResourcesTotal(),
		job.TablesTotal(),
		job.RowsLoaded(),
		job.StartedAt(),
		job.CompletedAt(),
		job.CreatedAt(),
		job.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID, excluding soft-deleted jobs
func (r *JobRepository) Get(id string) (*models.MigrationJob, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = ? AND deleted_at IS NULL"
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetBySequence retrieves a job by its sequence number, as shown by `jobs list`
func (r *JobRepository) GetBySequence(sequence int) (*models.MigrationJob, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE sequence = ? AND deleted_at IS NULL"
	return r.scanOne(r.db.QueryRow(query, sequence))
}

// Update writes the mutable outcome fields of a job
func (r *JobRepository) Update(job *models.MigrationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	job.SetUpdatedAt(now)

	query := `
		UPDATE jobs
		SET dataset_id = ?, state = ?, failed_step = ?, error_message = ?,
			resources_total = ?, tables_total = ?, rows_loaded = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		nullString(job.DatasetID()),
		string(job.State()),
		nullString(job.FailedStep()),
		nullString(job.ErrorMessage()),
		job.ResourcesTotal(),
		job.TablesTotal(),
		job.RowsLoaded(),
		job.StartedAt(),
		job.CompletedAt(),
		now,
		job.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return expectOne(result, job.ID())
}

// Delete soft-deletes a job by ID
func (r *JobRepository) Delete(id string) error {
	result, err := r.db.Exec("UPDATE jobs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL", time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return expectOne(result, id)
}

// List retrieves jobs matching the criteria, newest first.
//
// Supported criteria: "dataset", "state", "mode", "target_url" (strings) and "limit" (int).
func (r *JobRepository) List(criteria map[string]any) ([]*models.MigrationJob, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE deleted_at IS NULL"
	args := []any{}

	for _, key := range []string{"dataset", "state", "mode", "target_url"} {
		if v, ok := criteria[key].(string); ok && v != "" {
			query += " AND " + key + " = ?"
			args = append(args, v)
		}
	}

	query += " ORDER BY sequence DESC"
	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.MigrationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

// scanOne scans a single [sql.Row] into a [models.MigrationJob]
func (r *JobRepository) scanOne(row *sql.Row) (*models.MigrationJob, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job", shared.ErrNotFound)
	}
	return job, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.MigrationJob, error) {
	var (
		id             string
		sequence       int
		mode           string
		sourceURL      string
		targetURL      string
		dataset        string
		datasetID      sql.NullString
		state          string
		failedStep     sql.NullString
		errorMessage   sql.NullString
		resourcesTotal int
		tablesTotal    int
		rowsLoaded     int
		startedAt      sql.NullTime
		completedAt    sql.NullTime
		createdAt      time.Time
		updatedAt      time.Time
		deletedAt      sql.NullTime
	)

	err := row.Scan(
		&id, &sequence, &mode, &sourceURL, &targetURL, &dataset, &datasetID,
		&state, &failedStep, &errorMessage, &resourcesTotal, &tablesTotal,
		&rowsLoaded, &startedAt, &completedAt, &createdAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job := models.NewMigrationJob(sequence, models.JobMode(mode), sourceURL, targetURL, dataset)
	job.SetID(id)
	job.SetState(models.State(state))
	job.SetDatasetID(datasetID.String)
	job.SetFailedStep(failedStep.String)
	job.SetErrorMessage(errorMessage.String)
	job.SetResourcesTotal(resourcesTotal)
	job.SetTablesTotal(tablesTotal)
	job.SetRowsLoaded(rowsLoaded)
	job.SetCreatedAt(createdAt)
	job.SetUpdatedAt(updatedAt)
	if startedAt.Valid {
		job.SetStartedAt(&startedAt.Time)
	}
	if completedAt.Valid {
		job.SetCompletedAt(&completedAt.Time)
	}
	if deletedAt.Valid {
		job.SetDeletedAt(&deletedAt.Time)
	}
	return job, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func expectOne(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: job %s not found or already deleted", shared.ErrNotFound, id)
	}
	return nil
}

var _ models.Repository[*models.MigrationJob] = (*JobRepository)(nil)
