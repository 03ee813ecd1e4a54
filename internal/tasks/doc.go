// Package tasks migrates datasets between two catalog instances with real-time progress reporting.
//
// # Core Operations
//
// [Engine] exposes four operations:
//
//  1. [Engine.Run] : Full source → target migration
//     - Snapshots the source dataset through the field allow-lists
//     - Looks up the target organization by name and snapshots the target dataset
//     - Plans create/update per entity with [Plan], matching resources by name
//     - Writes the dataset (always private), then resources, then tables
//     - Schedules the deferred publish
//
//  2. [Engine.Preview] : Dry run
//     - Same reads and plan as Run; writes nothing
//
//  3. [Engine.Publish] : Standalone publish of an existing target dataset
//
//  4. [Engine.Teardown] : Ordered deletion
//     - Deletes every resource one at a time, then purges the dataset
//
// [Engine.MigrateBatch] repeats Run over several datasets with bounded concurrency.
//
// # State Machine
//
// A run moves START → DATASET_READY → RESOURCES_READY → TABLES_READY → PUBLISHED and stops at the
// first failure with a [*StepError] naming the state, entity and remote action. Nothing is rolled
// back; re-running converges because every entity is matched by name.
//
// # Tables
//
// [Loader] writes a table as one schema-only datastore_create followed by ordered
// datastore_upsert batches of [DefaultBatchSize] rows.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data.
// Updates use select with default to prevent blocking.
package tasks
