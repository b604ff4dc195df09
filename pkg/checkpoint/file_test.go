package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/rs/zerolog"
)

func sampleCheckpoint(n int) *Checkpoint {
	records := make([]listing.Listing, n)
	for i := range records {
		records[i] = listing.Listing{ID: string(rune('a' + i)), Kind: listing.KindRent, Price: float64(100 * (i + 1))}
	}
	return &Checkpoint{
		RunID:       "run-1",
		Kind:        listing.KindRent,
		LastPage:    9,
		Records:     records,
		FailedPages: []int{4},
		TotalCount:  500,
		Stats:       listing.RunStats{PagesProcessed: 10, Collected: n},
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir(), listing.KindRent, zerolog.Nop())

	cp, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cp != nil {
		t.Errorf("Load() = %+v, want nil", cp)
	}
}

func TestFileStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir(), listing.KindRent, zerolog.Nop())

	if err := store.Save(ctx, sampleCheckpoint(3)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	cp, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cp.Version != Version || cp.RecordCount != 3 || len(cp.Records) != 3 {
		t.Errorf("loaded = version %d count %d records %d", cp.Version, cp.RecordCount, len(cp.Records))
	}
	if cp.LastPage != 9 || cp.RunID != "run-1" || cp.TotalCount != 500 {
		t.Errorf("loaded meta = %+v", cp)
	}
	if len(cp.FailedPages) != 1 || cp.FailedPages[0] != 4 {
		t.Errorf("FailedPages = %v, want [4]", cp.FailedPages)
	}
	if cp.SavedAt.IsZero() {
		t.Error("SavedAt not stamped")
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Errorf("checkpoint file still present after Clear: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Errorf("second Clear() error: %v", err)
	}
}

func TestFileStore_Path(t *testing.T) {
	store := NewFileStore("/data/out", listing.KindSale, zerolog.Nop())
	if got := store.Path(); got != filepath.Join("/data/out", "checkpoint_sale.json") {
		t.Errorf("Path() = %q", got)
	}
}

func TestFileStore_Corruption(t *testing.T) {
	tests := []struct {
		name    string
		content string
		reason  string
	}{
		{name: "truncated json", content: `{"version":1,"kind":"rent","records":[{"id":"a"`, reason: "unparsable"},
		{name: "wrong version", content: `{"version":99,"kind":"rent","lastPage":1,"recordCount":0,"records":[]}`, reason: "unsupported version"},
		{name: "count mismatch", content: `{"version":1,"kind":"rent","lastPage":1,"recordCount":5,"records":[{"id":"a"}]}`, reason: "record count"},
		{name: "other kind", content: `{"version":1,"kind":"sale","lastPage":1,"recordCount":0,"records":[]}`, reason: "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewFileStore(t.TempDir(), listing.KindRent, zerolog.Nop())
			if err := os.WriteFile(store.Path(), []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			cp, err := store.Load(context.Background())
			if cp != nil {
				t.Errorf("Load() = %+v, want nil", cp)
			}
			if !IsCorruption(err) {
				t.Fatalf("err = %v, want *CorruptionError", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("err = %q, want reason %q", err.Error(), tt.reason)
			}

			if _, err := os.Stat(store.Path() + ".corrupt"); err != nil {
				t.Errorf("corrupt file not moved aside: %v", err)
			}
			cp, err = store.Load(context.Background())
			if cp != nil || err != nil {
				t.Errorf("second Load() = %+v, %v; want nil, nil", cp, err)
			}
		})
	}
}

// A crash between writing the temp file and renaming it must leave the
// previous checkpoint intact and loadable.
func TestFileStore_CrashMidSaveKeepsPreviousCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, listing.KindRent, zerolog.Nop())

	if err := store.Save(ctx, sampleCheckpoint(2)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	half := []byte(`{"version":1,"runId":"run-1","kind":"rent","lastPage":19,"recordCount":4,"records":[{"id":"a"},{"id"`)
	if err := os.WriteFile(filepath.Join(dir, "checkpoint_rent.json.123.tmp"), half, 0o644); err != nil {
		t.Fatal(err)
	}

	cp, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cp.LastPage != 9 || len(cp.Records) != 2 {
		t.Errorf("loaded lastPage %d with %d records, want previous checkpoint (9, 2)", cp.LastPage, len(cp.Records))
	}

	cp.LastPage = 19
	cp.Records = append(cp.Records, listing.Listing{ID: "c"})
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save() after crash error: %v", err)
	}
	cp, err = store.Load(ctx)
	if err != nil || cp.LastPage != 19 || cp.RecordCount != 3 {
		t.Errorf("reloaded = %+v, %v", cp, err)
	}
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, listing.KindSale, zerolog.Nop())
	cp := sampleCheckpoint(1)
	cp.Kind = listing.KindSale

	for i := 0; i < 3; i++ {
		if err := store.Save(context.Background(), cp); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir entries = %v, want only the checkpoint", names)
	}
}
