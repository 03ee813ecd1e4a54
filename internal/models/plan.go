package models

import (
	"fmt"
	"strings"
)

// Action is the decision taken for one entity.
type Action int

const (
	ActionSkip Action = iota
	ActionCreate
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "CREATE"
	case ActionUpdate:
		return "UPDATE"
	default:
		return "SKIP"
	}
}

// MarshalText renders the action by name in JSON and YAML output.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses CREATE, UPDATE or SKIP.
func (a *Action) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "CREATE":
		*a = ActionCreate
	case "UPDATE":
		*a = ActionUpdate
	case "SKIP", "":
		*a = ActionSkip
	default:
		return fmt.Errorf("unknown action %q", text)
	}
	return nil
}

// ChangeKind classifies a metadata difference.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// FieldChange is one metadata key that differs between the desired and existing dataset.
type FieldChange struct {
	Key  string     `json:"key" yaml:"key"`
	Kind ChangeKind `json:"kind" yaml:"kind"`
	From any        `json:"from,omitempty" yaml:"from,omitempty"`
	To   any        `json:"to,omitempty" yaml:"to,omitempty"`
}

// MigrationPlan records, per entity, what a run will do. Resource and table
// decisions are keyed by resource name; Order keeps the source resource order.
//
// A table UPDATE means the existing table is deleted and recreated.
type MigrationPlan struct {
	Dataset         Action            `json:"dataset" yaml:"dataset"`
	DatasetName     string            `json:"dataset_name" yaml:"dataset_name"`
	TargetDatasetID string            `json:"target_dataset_id,omitempty" yaml:"target_dataset_id,omitempty"`
	Resources       map[string]Action `json:"resources" yaml:"resources"`
	Tables          map[string]Action `json:"tables" yaml:"tables"`
	Matches         map[string]string `json:"matches,omitempty" yaml:"matches,omitempty"`
	Order           []string          `json:"order" yaml:"order"`
	Changes         []FieldChange     `json:"changes,omitempty" yaml:"changes,omitempty"`
	Warnings        []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Count tallies how many resources or tables carry action a.
func Count(actions map[string]Action, a Action) int {
	n := 0
	for _, v := range actions {
		if v == a {
			n++
		}
	}
	return n
}

// Cleared lists the metadata keys the target holds and the source no longer has.
func (p MigrationPlan) Cleared() []string {
	var keys []string
	for _, c := range p.Changes {
		if c.Kind == ChangeDelete {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// Mode reports "create" when the dataset does not exist on the target yet, "update" otherwise.
func (p MigrationPlan) Mode() string {
	if p.Dataset == ActionCreate {
		return "create"
	}
	return "update"
}
