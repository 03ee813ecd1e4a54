// Package repositories implements SQLite persistence for job history.
//
// Repositories handle CRUD operations with atomic sequence generation for human-readable ordering.
// They support soft deletes via deleted_at timestamps and exclude deleted records from queries by default.
//
// Key Implementations:
//   - [JobRepository] : Run, teardown and publish history with state and failure tracking
//
// Sequence numbers provide stable, human-readable handles (e.g. job #42) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
