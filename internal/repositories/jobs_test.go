package repositories

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func newRunJob(dataset string) *models.MigrationJob {
	return models.NewMigrationJob(0, models.ModeRun, "https://source.example.org", "https://target.example.org", dataset)
}

func TestJobRepository(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		job := newRunJob("air-quality")

		if err := repo.Create(job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
		if job.ID() == "" {
			t.Error("job ID should be set after creation")
		}
		if job.Sequence() != 1 {
			t.Errorf("expected sequence 1, got %d", job.Sequence())
		}
	})

	t.Run("Get", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		job := newRunJob("air-quality")
		if err := repo.Create(job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}

		retrieved, err := repo.Get(job.ID())
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if retrieved.Dataset() != "air-quality" || retrieved.Mode() != models.ModeRun {
			t.Errorf("unexpected job: %s %s", retrieved.Mode(), retrieved.Dataset())
		}
		if retrieved.State() != models.StateStart {
			t.Errorf("expected state START, got %s", retrieved.State())
		}

		bySeq, err := repo.GetBySequence(job.Sequence())
		if err != nil || bySeq.ID() != job.ID() {
			t.Errorf("GetBySequence() = %v, %v", bySeq, err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		job := newRunJob("air-quality")
		if err := repo.Create(job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}

		started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
		done := started.Add(42 * time.Second)
		job.SetState(models.StateTablesReady)
		job.SetDatasetID("pkg-1")
		job.SetFailedStep("PUBLISHED/dataset/package_patch")
		job.SetErrorMessage("publish failed")
		job.SetResourcesTotal(3)
		job.SetTablesTotal(1)
		job.SetRowsLoaded(12000)
		job.SetStartedAt(&started)
		job.SetCompletedAt(&done)

		if err := repo.Update(job); err != nil {
			t.Fatalf("failed to update job: %v", err)
		}

		retrieved, err := repo.Get(job.ID())
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if retrieved.State() != models.StateTablesReady || retrieved.DatasetID() != "pkg-1" {
			t.Errorf("state/dataset id not persisted: %s %s", retrieved.State(), retrieved.DatasetID())
		}
		if !retrieved.Failed() || retrieved.FailedStep() != "PUBLISHED/dataset/package_patch" {
			t.Errorf("failure not persisted: %q %q", retrieved.FailedStep(), retrieved.ErrorMessage())
		}
		if retrieved.RowsLoaded() != 12000 || retrieved.ResourcesTotal() != 3 || retrieved.TablesTotal() != 1 {
			t.Errorf("counts not persisted")
		}
		if retrieved.Duration() != 42*time.Second {
			t.Errorf("expected duration 42s, got %s", retrieved.Duration())
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		job := newRunJob("air-quality")
		if err := repo.Create(job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
		if got, err := repo.Get(job.ID()); err != nil || got.DeletedAt() != nil {
			t.Fatalf("expected live job before delete, got %v (err %v)", got, err)
		}

		if err := repo.Delete(job.ID()); err != nil {
			t.Fatalf("failed to delete job: %v", err)
		}
		if _, err := repo.Get(job.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected not found after delete, got %v", err)
		}
		if err := repo.Delete(job.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected not found on second delete, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))

		for _, j := range []*models.MigrationJob{
			newRunJob("air-quality"),
			newRunJob("bike-counts"),
			models.NewMigrationJob(0, models.ModeTeardown, "", "https://target.example.org", "air-quality"),
		} {
			if err := repo.Create(j); err != nil {
				t.Fatalf("failed to create job: %v", err)
			}
		}

		all, err := repo.List(nil)
		if err != nil {
			t.Fatalf("failed to list jobs: %v", err)
		}
		if len(all) != 3 || all[0].Sequence() != 3 {
			t.Errorf("expected 3 jobs newest first, got %d", len(all))
		}

		tests := []struct {
			name     string
			criteria map[string]any
			want     int
		}{
			{"by dataset", map[string]any{"dataset": "air-quality"}, 2},
			{"by mode", map[string]any{"mode": string(models.ModeTeardown)}, 1},
			{"by state", map[string]any{"state": string(models.StateStart)}, 3},
			{"by target", map[string]any{"target_url": "https://other.example.org"}, 0},
			{"limit", map[string]any{"limit": 2}, 2},
			{"combined", map[string]any{"dataset": "air-quality", "mode": string(models.ModeRun)}, 1},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				jobs, err := repo.List(tt.criteria)
				if err != nil {
					t.Fatalf("failed to list jobs: %v", err)
				}
				if len(jobs) != tt.want {
					t.Errorf("expected %d jobs, got %d", tt.want, len(jobs))
				}
			})
		}
	})
}

func TestJobRepositoryErrors(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		t.Run("ValidationError", func(t *testing.T) {
			repo := NewJobRepository(setupTestDB(t))
			job := models.NewMigrationJob(0, models.ModeRun, "", "https://target.example.org", "air-quality")

			if err := repo.Create(job); err == nil {
				t.Fatal("expected validation error for a run without source")
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			repo := NewJobRepository(setupTestDB(t))
			if _, err := repo.Get("nonexistent-id"); !errors.Is(err, shared.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			if _, err := repo.GetBySequence(99); !errors.Is(err, shared.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	})

	t.Run("Update", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			repo := NewJobRepository(setupTestDB(t))
			job := newRunJob("air-quality")
			job.SetID("nonexistent-id")

			if err := repo.Update(job); !errors.Is(err, shared.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	})

	t.Run("ClosedDatabase", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewJobRepository(db)
		db.Close()

		if err := repo.Create(newRunJob("air-quality")); err == nil {
			t.Error("expected error on closed database")
		}
		if _, err := repo.List(nil); err == nil {
			t.Error("expected error on closed database")
		}
	})
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)

	seq1, err := NextSequence(db, "jobs")
	if err != nil {
		t.Fatalf("failed to get first sequence: %v", err)
	}
	if seq1 != 1 {
		t.Errorf("expected first sequence to be 1, got %d", seq1)
	}

	seq2, err := NextSequence(db, "jobs")
	if err != nil {
		t.Fatalf("failed to get second sequence: %v", err)
	}
	if seq2 != 2 {
		t.Errorf("expected second sequence to be 2, got %d", seq2)
	}

	if _, err := NextSequence(db, "missing"); err == nil {
		t.Error("expected error for a table without a sequence")
	}
}
