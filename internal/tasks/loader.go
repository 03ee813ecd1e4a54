package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/services"
	"github.com/desertthunder/dsx/internal/shared"
)

// DefaultBatchSize is the number of rows sent per datastore_upsert call.
const DefaultBatchSize = 5000

// insertMethod is the datastore_upsert method used for every batch.
const insertMethod = "insert"

// LoadResult reports what a load sent, including on partial failure.
type LoadResult struct {
	Batches int `json:"batches" yaml:"batches"`
	Rows    int `json:"rows" yaml:"rows"`
}

// LoadError names the datastore action a load stopped at.
type LoadError struct {
	Action string
	Batch  int
	Err    error
}

func (e *LoadError) Error() string {
	if e.Batch > 0 {
		return fmt.Sprintf("%s batch %d: %v", e.Action, e.Batch, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader writes a table to a target resource in ordered, bounded batches.
type Loader struct {
	BatchSize int
	logger    *log.Logger
}

// NewLoader creates a Loader. A non-positive batchSize uses [DefaultBatchSize].
func NewLoader(batchSize int, logger *log.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &Loader{BatchSize: batchSize, logger: logger}
}

// Batches returns how many upsert calls rows will take.
func (l *Loader) Batches(rows int) int {
	return (rows + l.BatchSize - 1) / l.BatchSize
}

// Load creates the table schema on resourceID and inserts the rows batch by batch, in order.
//
// With replace set the existing table is dropped first; a missing table is not an error.
// The first failed batch stops the load.
func (l *Loader) Load(ctx context.Context, target services.Catalog, resourceID string, table models.Table, replace bool) (LoadResult, error) {
	return l.load(ctx, target, resourceID, table, replace, nil)
}

func (l *Loader) load(
	ctx context.Context,
	target services.Catalog,
	resourceID string,
	table models.Table,
	replace bool,
	onBatch func(step, total, rows int),
) (LoadResult, error) {
	var result LoadResult
	table = table.StripAutoID()

	if replace {
		if err := target.DatastoreDelete(ctx, resourceID); err != nil && !errors.Is(err, shared.ErrNotFound) {
			return result, &LoadError{Action: "datastore_delete", Err: err}
		}
	}

	if err := target.DatastoreCreate(ctx, resourceID, table.Fields, nil); err != nil {
		if !replace && errors.Is(err, shared.ErrRemoteRejected) {
			err = fmt.Errorf("%w: %w", shared.ErrSchemaConflict, err)
		}
		return result, &LoadError{Action: "datastore_create", Err: err}
	}

	total := l.Batches(len(table.Rows))
	for i := 0; i < total; i++ {
		start := i * l.BatchSize
		end := min(start+l.BatchSize, len(table.Rows))
		batch := table.Rows[start:end]

		if err := target.DatastoreUpsert(ctx, resourceID, batch, insertMethod); err != nil {
			l.logger.Error("batch failed", "resource", resourceID, "batch", i+1, "of", total, "error", err)
			return result, &LoadError{Action: "datastore_upsert", Batch: i + 1, Err: err}
		}
		result.Batches++
		result.Rows += len(batch)
		l.logger.Debug("batch loaded", "resource", resourceID, "batch", i+1, "of", total, "rows", len(batch))

		if onBatch != nil {
			onBatch(i+1, total, len(batch))
		}
	}
	return result, nil
}
