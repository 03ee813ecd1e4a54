package tasks

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/dsx/internal/models"
)

func TestPhase_String(t *testing.T) {
	phases := []Phase{FetchSource, FetchTarget, PlanChanges, WriteDataset, WriteResources, LoadTables, LoadBatch, Publish, Teardown, BatchMigrate}
	seen := map[string]bool{}
	for _, p := range phases {
		s := p.String()
		if s == "" {
			t.Errorf("phase %d has no name", p)
		}
		if seen[s] {
			t.Errorf("phase name %q reused", s)
		}
		seen[s] = true
	}
	if Phase(99).String() != "" {
		t.Error("unknown phase should have an empty name")
	}
}

func TestUpdateMessages(t *testing.T) {
	upload := models.Resource{Name: "Readings CSV", URLType: models.URLTypeUpload}

	tests := []struct {
		name   string
		update ProgressUpdate
		want   string
	}{
		{"resource", resourceUpdate(2, 3, models.ActionCreate, upload), "[2/3] CREATE resource Readings CSV (upload)"},
		{"replace table", tableUpdate(1, 1, models.ActionUpdate, "Readings"), "Replacing table for Readings"},
		{"batch", batchUpdate(3, 3, 2000), "batch 3/3 (2000 rows)"},
		{"publish", publishScheduledUpdate("air-quality", 20*time.Second), "in 20s"},
		{"soft delete", purgeUpdate("d", false), "Deleting dataset d"},
		{"batch failure", batchFailedUpdate(1, 2, "ghost", errors.New("gone")), "✗ ghost: gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.update.Message, tt.want) {
				t.Errorf("message %q does not contain %q", tt.update.Message, tt.want)
			}
		})
	}
}
