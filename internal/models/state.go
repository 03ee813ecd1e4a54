package models

// State is a position in the migration state machine.
type State string

const (
	StateStart          State = "START"
	StateDatasetReady   State = "DATASET_READY"
	StateResourcesReady State = "RESOURCES_READY"
	StateTablesReady    State = "TABLES_READY"
	StatePublished      State = "PUBLISHED"
	StateTeardown       State = "TEARDOWN"
)

// Next returns the state a forward run enters after s, or "" at the end.
func (s State) Next() State {
	switch s {
	case StateStart:
		return StateDatasetReady
	case StateDatasetReady:
		return StateResourcesReady
	case StateResourcesReady:
		return StateTablesReady
	case StateTablesReady:
		return StatePublished
	default:
		return ""
	}
}

// JobMode names the kind of operation a [MigrationJob] records.
type JobMode string

const (
	ModeRun      JobMode = "run"
	ModeTeardown JobMode = "teardown"
	ModePublish  JobMode = "publish"
)

func (m JobMode) Valid() bool {
	switch m {
	case ModeRun, ModeTeardown, ModePublish:
		return true
	}
	return false
}
