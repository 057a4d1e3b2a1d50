package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/awattacker/observer/internal/db"
	"github.com/awattacker/observer/internal/model"
)

func newTestRepository(t *testing.T) *StoredFileRepository {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return NewStoredFileRepository(testDB)
}

// Property: catalog persistence.
// Every created record can be read back unchanged and deleted exactly once.
func TestStoredFilePersistenceProperty(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	nonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 100
	})

	properties.Property("stored file records round-trip through the catalog", prop.ForAll(
		func(transferID, fileName string, size int64) bool {
			file := &model.StoredFile{
				ID:          uuid.New().String(),
				TransferID:  transferID,
				FileName:    fileName,
				ContentType: "text/plain",
				Size:        size,
				SavedPath:   filepath.Join("/data/files", fileName),
				CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
			}

			if err := repo.Create(ctx, file); err != nil {
				t.Logf("failed to create stored file: %v", err)
				return false
			}

			got, err := repo.GetByID(ctx, file.ID)
			if err != nil {
				t.Logf("failed to retrieve stored file: %v", err)
				return false
			}
			if got.TransferID != file.TransferID ||
				got.FileName != file.FileName ||
				got.ContentType != file.ContentType ||
				got.Size != file.Size ||
				got.SavedPath != file.SavedPath ||
				!got.CreatedAt.Equal(file.CreatedAt) {
				t.Logf("retrieved record %+v does not match %+v", got, file)
				return false
			}

			if err := repo.Delete(ctx, file.ID); err != nil {
				return false
			}
			return errors.Is(repo.Delete(ctx, file.ID), model.ErrFileNotFound)
		},
		nonEmptyString,
		nonEmptyString,
		gen.Int64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}

func TestStoredFileRepository_List(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := repo.Create(ctx, &model.StoredFile{
			ID:         fmt.Sprintf("f%d", i),
			TransferID: fmt.Sprintf("t%d", i),
			FileName:   "a.txt",
			SavedPath:  "/data/a.txt",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("failed to create: %v", err)
		}
	}

	t.Run("newest first with limit", func(t *testing.T) {
		files, err := repo.List(ctx, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(files) != 3 {
			t.Fatalf("expected 3 files, got %d", len(files))
		}
		for i, want := range []string{"f4", "f3", "f2"} {
			if files[i].ID != want {
				t.Errorf("position %d: expected %s, got %s", i, want, files[i].ID)
			}
		}
	})

	t.Run("default limit", func(t *testing.T) {
		files, err := repo.List(ctx, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(files) != 5 {
			t.Errorf("expected 5 files, got %d", len(files))
		}
	})

	t.Run("missing id", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "nope"); !errors.Is(err, model.ErrFileNotFound) {
			t.Errorf("expected ErrFileNotFound, got %v", err)
		}
	})
}
