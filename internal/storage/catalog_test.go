package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/casefind/internal/models"
)

func TestCatalog_Records(t *testing.T) {
	dir := t.TempDir()
	cat, err := NewCatalog(filepath.Join(dir, "db", "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	ctx := context.Background()

	if err := cat.UpsertRecord(ctx, RecordSummary{ID: 7, DisplayName: "Jane Doe", AssetCount: 2}); err != nil {
		t.Fatal(err)
	}
	if err := cat.UpsertRecord(ctx, RecordSummary{ID: 7, DisplayName: "Jane Roe", AssetCount: 3}); err != nil {
		t.Fatal(err)
	}
	got, err := cat.GetRecord(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != "Jane Roe" || got.AssetCount != 3 {
		t.Errorf("got %+v", got)
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt should be set")
	}

	n, err := cat.CountRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountRecords = %d, want 1", n)
	}

	if _, err := cat.GetRecord(ctx, 8); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalog_Runs(t *testing.T) {
	cat, err := NewCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	ctx := context.Background()

	id, err := cat.StartRun(ctx, "records")
	if err != nil {
		t.Fatal(err)
	}
	if err := cat.FinishRun(ctx, RunSummary{ID: id, Succeeded: 9, Failed: 1, Skipped: 2}); err != nil {
		t.Fatal(err)
	}
	runs, err := cat.RecentRuns(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.Stage != "records" || r.Succeeded != 9 || r.Failed != 1 || r.Skipped != 2 || r.Canceled {
		t.Errorf("unexpected run %+v", r)
	}
	if r.FinishedAt.IsZero() {
		t.Error("FinishedAt should be set")
	}

	if err := cat.FinishRun(ctx, RunSummary{ID: "missing"}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown run, got %v", err)
	}
}
