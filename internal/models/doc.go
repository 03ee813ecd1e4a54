// Package models defines the portable catalog entities moved between instances
// ([Organization], [Dataset], [Resource], [Table], [Snapshot]), the [MigrationPlan]
// decided before any write, and the persistent [MigrationJob] history record.
//
// # Allow-lists
//
// [DatasetFields] and [ResourceFields] are the only keys ever copied from a read
// model into a write payload. Instance-local identifiers and the datastore's
// auto-assigned "_id" column never cross an instance boundary.
//
// # Persistence
//
// [Model] and [Repository] describe the storage contract implemented by the
// repositories package for job history.
package models
