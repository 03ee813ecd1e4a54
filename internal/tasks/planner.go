package tasks

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/desertthunder/dsx/internal/models"
)

// Plan derives create/update decisions for the dataset, each resource and each table.
//
// Resources are matched by name only, never by position or id. existing is nil when the
// dataset is not on the target yet. Plan does no I/O and returns the same plan for the same inputs.
func Plan(desired models.Snapshot, existing *models.Snapshot) models.MigrationPlan {
	plan := models.MigrationPlan{
		Dataset:     models.ActionCreate,
		DatasetName: desired.Dataset.Name,
		Resources:   make(map[string]models.Action, len(desired.Resources)),
		Tables:      make(map[string]models.Action, len(desired.Resources)),
		Matches:     map[string]string{},
		Order:       make([]string, 0, len(desired.Resources)),
	}
	if existing != nil {
		plan.Dataset = models.ActionUpdate
		plan.TargetDatasetID = existing.Dataset.ID
		plan.Changes = diffMetadata(desired.Dataset.Metadata, existing.Dataset.Metadata)
	}

	seen := make(map[string]bool, len(desired.Resources))
	for _, r := range desired.Resources {
		if seen[r.Name] {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("resource name %q appears more than once in the source dataset", r.Name))
			continue
		}
		seen[r.Name] = true
		plan.Order = append(plan.Order, r.Name)

		var matches []models.Resource
		if existing != nil {
			matches = existing.Lookup(r.Name)
		}

		var match *models.Resource
		switch len(matches) {
		case 0:
			plan.Resources[r.Name] = models.ActionCreate
		case 1:
			match = &matches[0]
		default:
			match = &matches[0]
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("resource name %q matches %d target resources; updating %s", r.Name, len(matches), match.ID))
		}
		if match != nil {
			plan.Resources[r.Name] = models.ActionUpdate
			plan.Matches[r.Name] = match.ID
		}

		switch {
		case !r.HasTable:
			plan.Tables[r.Name] = models.ActionSkip
		case match != nil && match.HasTable:
			plan.Tables[r.Name] = models.ActionUpdate
		default:
			plan.Tables[r.Name] = models.ActionCreate
		}
	}
	return plan
}

// diffMetadata lists the allow-listed keys that differ, sorted by key. Keys only in want are
// inserts, keys only in have are deletes.
func diffMetadata(want, have map[string]any) []models.FieldChange {
	var changes []models.FieldChange
	for _, key := range models.DatasetFields {
		to, inWant := want[key]
		from, inHave := have[key]
		switch {
		case inWant && !inHave:
			changes = append(changes, models.FieldChange{Key: key, Kind: models.ChangeInsert, To: to})
		case !inWant && inHave:
			changes = append(changes, models.FieldChange{Key: key, Kind: models.ChangeDelete, From: from})
		case inWant && inHave && !reflect.DeepEqual(to, from):
			changes = append(changes, models.FieldChange{Key: key, Kind: models.ChangeUpdate, From: from, To: to})
		}
	}
	slices.SortFunc(changes, func(a, b models.FieldChange) int { return strings.Compare(a.Key, b.Key) })
	return changes
}
