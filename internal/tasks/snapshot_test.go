package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/shared"
	"github.com/desertthunder/dsx/internal/testing/fakeckan"
)

func TestFetchSnapshot(t *testing.T) {
	src := newSource(t, 3)

	snap, err := FetchSnapshot(context.Background(), src, "air-quality")
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}

	if snap.Organization.Name != "environment" {
		t.Errorf("organization = %q", snap.Organization.Name)
	}
	if snap.Dataset.Name != "air-quality" || snap.Dataset.Title() != "Air Quality" {
		t.Errorf("dataset = %+v", snap.Dataset)
	}
	for _, key := range []string{"num_tags", "state", "id", "name", "organization", "resources"} {
		if _, ok := snap.Dataset.Metadata[key]; ok {
			t.Errorf("metadata kept non-allow-listed key %q", key)
		}
	}

	wantNames := []string{"About", "Readings CSV", "Readings"}
	if len(snap.Resources) != len(wantNames) {
		t.Fatalf("resources = %d, want %d", len(snap.Resources), len(wantNames))
	}
	for i, r := range snap.Resources {
		if r.Name != wantNames[i] || r.Position != i {
			t.Errorf("resource %d = %q at %d", i, r.Name, r.Position)
		}
	}
	if !snap.Resources[2].HasTable || snap.Resources[0].HasTable {
		t.Error("HasTable not read from datastore_active")
	}
	if !snap.Resources[1].IsUpload() {
		t.Error("upload resource not recognized")
	}

	byID, err := FetchSnapshot(context.Background(), src, snap.Dataset.ID)
	if err != nil || byID.Dataset.Name != "air-quality" {
		t.Errorf("lookup by id = %v, %v", byID, err)
	}
}

func TestFetchSnapshot_Missing(t *testing.T) {
	src := newSource(t, 0)

	_, err := FetchSnapshot(context.Background(), src, "ghost")
	if !errors.Is(err, shared.ErrDatasetNotFound) || !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("error = %v, want dataset not found", err)
	}
}

func TestFetchTargetSnapshot(t *testing.T) {
	t.Run("absent dataset is nil", func(t *testing.T) {
		dst, _ := newTarget(t)
		snap, err := FetchTargetSnapshot(context.Background(), dst, "air-quality")
		if err != nil || snap != nil {
			t.Errorf("FetchTargetSnapshot() = %v, %v; want nil, nil", snap, err)
		}
	})

	t.Run("other failures are returned", func(t *testing.T) {
		dst, _ := newTarget(t)
		dst.FailAt("package_show", 1, fakeckan.Rejected("package_show", "Authorization Error"))

		snap, err := FetchTargetSnapshot(context.Background(), dst, "air-quality")
		if !errors.Is(err, shared.ErrRemoteRejected) || snap != nil {
			t.Errorf("FetchTargetSnapshot() = %v, %v; want rejection", snap, err)
		}
	})
}

func TestFetchTable(t *testing.T) {
	t.Run("reads schema then rows and strips _id", func(t *testing.T) {
		src := newSource(t, 25)

		table, err := FetchTable(context.Background(), src, "src-table")
		if err != nil {
			t.Fatalf("FetchTable() error = %v", err)
		}
		if len(table.Fields) != len(readingFields) {
			t.Errorf("fields = %v", table.Fields)
		}
		for _, f := range table.Fields {
			if f.ID == models.AutoIDField {
				t.Error("_id field kept")
			}
		}
		if len(table.Rows) != 25 {
			t.Fatalf("rows = %d, want 25", len(table.Rows))
		}
		for i, row := range table.Rows {
			if _, ok := row[models.AutoIDField]; ok {
				t.Fatalf("row %d kept _id", i)
			}
			if row["seq"] != i {
				t.Fatalf("row %d out of order", i)
			}
		}
		if n := len(src.CallsFor("datastore_search")); n != 2 {
			t.Errorf("datastore_search calls = %d, want 2", n)
		}
	})

	t.Run("empty table needs one call", func(t *testing.T) {
		src := newSource(t, 0)

		table, err := FetchTable(context.Background(), src, "src-table")
		if err != nil {
			t.Fatalf("FetchTable() error = %v", err)
		}
		if len(table.Rows) != 0 || len(table.Fields) != len(readingFields) {
			t.Errorf("table = %+v", table)
		}
		if n := len(src.CallsFor("datastore_search")); n != 1 {
			t.Errorf("datastore_search calls = %d, want 1", n)
		}
	})

	t.Run("missing table", func(t *testing.T) {
		src := newSource(t, 0)
		if _, err := FetchTable(context.Background(), src, "src-readme"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("error = %v, want not found", err)
		}
	})

	t.Run("row read failure", func(t *testing.T) {
		src := newSource(t, 4)
		src.FailAt("datastore_search", 2, fmt.Errorf("%w: timeout", shared.ErrTransport))
		if _, err := FetchTable(context.Background(), src, "src-table"); !errors.Is(err, shared.ErrTransport) {
			t.Errorf("error = %v, want transport error", err)
		}
	})
}
