package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/icongen/historydb/pkg/stores"
)

func setupTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := store.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func listIDs(t *testing.T, store *stores.SQLiteStore) []string {
	t.Helper()

	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestImportFile_SingleObject(t *testing.T) {
	store := setupTestStore(t)
	importer := NewImporter(store, zerolog.Nop(), 0)

	path := writeFile(t, t.TempDir(), "one.json", `{"id":"icon-1","timestamp":100,"prompt":"cat"}`)

	result, err := importer.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if result.Saved != 1 || result.Trimmed != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	var prompt string
	if ok, _ := items[0].Field("prompt", &prompt); !ok || prompt != "cat" {
		t.Errorf("expected prompt field to be imported, got %q", prompt)
	}
}

func TestImportFile_ArrayWithTrim(t *testing.T) {
	store := setupTestStore(t)
	importer := NewImporter(store, zerolog.Nop(), 2)

	path := writeFile(t, t.TempDir(), "batch.json", `[
		{"id":"a","timestamp":1},
		{"id":"b","timestamp":2},
		{"timestamp":3},
		{"id":"c","timestamp":3}
	]`)

	result, err := importer.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if result.Saved != 3 || result.Skipped != 1 || result.Trimmed != 1 {
		t.Errorf("unexpected result: %+v", result)
	}

	ids := listIDs(t, store)
	if len(ids) != 2 || ids[0] != "c" || ids[1] != "b" {
		t.Errorf("expected [c b], got %v", ids)
	}
}

func TestImportFile_Errors(t *testing.T) {
	store := setupTestStore(t)
	importer := NewImporter(store, zerolog.Nop(), 0)
	dir := t.TempDir()

	tests := map[string]string{
		"empty":      "",
		"not json":   "icons!",
		"wrong type": `"icon"`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, "bad.json", content)
			if _, err := importer.ImportFile(context.Background(), path); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := importer.ImportFile(context.Background(), filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

type failingStore struct {
	saveErr error
	saves   int
	trims   int
}

func (f *failingStore) Save(ctx context.Context, item stores.HistoryItem) error {
	f.saves++
	return f.saveErr
}

func (f *failingStore) Trim(ctx context.Context, maxCount int) (int, error) {
	f.trims++
	return 0, nil
}

func TestImportFile_StoreFailure(t *testing.T) {
	store := &failingStore{saveErr: &stores.StoreError{Kind: stores.KindWrite, Op: "save", Err: errors.New("disk full")}}
	importer := NewImporter(store, zerolog.Nop(), 10)

	path := writeFile(t, t.TempDir(), "batch.json", `[{"id":"a","timestamp":1},{"id":"b","timestamp":2}]`)

	_, err := importer.ImportFile(context.Background(), path)
	if !errors.Is(err, stores.ErrWrite) {
		t.Fatalf("expected write error, got %v", err)
	}
	if store.saves != 1 {
		t.Errorf("expected import to stop after first failure, got %d saves", store.saves)
	}
	if store.trims != 0 {
		t.Error("expected no trim after failure")
	}
}

func TestImportDir(t *testing.T) {
	store := setupTestStore(t)
	importer := NewImporter(store, zerolog.Nop(), 0)
	dir := t.TempDir()

	writeFile(t, dir, "b.json", `{"id":"from-b","timestamp":2}`)
	writeFile(t, dir, "a.json", `{"id":"from-a","timestamp":1}`)
	writeFile(t, dir, "broken.json", `{`)
	writeFile(t, dir, "notes.txt", `{"id":"ignored","timestamp":9}`)
	writeFile(t, dir, ".hidden.json", `{"id":"hidden","timestamp":9}`)
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "nested"), "c.json", `{"id":"nested","timestamp":9}`)

	results, err := importer.ImportDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportDir failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 imported files, got %d", len(results))
	}
	if filepath.Base(results[0].File) != "a.json" || filepath.Base(results[1].File) != "b.json" {
		t.Errorf("expected files in name order, got %s, %s", results[0].File, results[1].File)
	}

	ids := listIDs(t, store)
	if len(ids) != 2 || ids[0] != "from-b" || ids[1] != "from-a" {
		t.Errorf("expected [from-b from-a], got %v", ids)
	}

	if _, err := importer.ImportDir(context.Background(), filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestWatch(t *testing.T) {
	store := setupTestStore(t)
	importer := NewImporter(store, zerolog.Nop(), 0)
	importer.SetDebounce(20 * time.Millisecond)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	imported := make(chan Result, 16)
	done := make(chan error, 1)
	go func() {
		done <- importer.Watch(ctx, dir, func(r Result) { imported <- r })
	}()

	// The watcher registers asynchronously, so keep rewriting the file
	// until an import is reported.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var result Result
wait:
	for {
		select {
		case result = <-imported:
			break wait
		case <-ticker.C:
			writeFile(t, dir, "drop.json", `{"id":"watched","timestamp":5}`)
		case <-deadline:
			t.Fatal("timed out waiting for watched import")
		}
	}

	if result.Saved != 1 || filepath.Base(result.File) != "drop.json" {
		t.Errorf("unexpected result: %+v", result)
	}
	if ids := listIDs(t, store); len(ids) != 1 || ids[0] != "watched" {
		t.Errorf("expected [watched], got %v", ids)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDir(t *testing.T) {
	importer := NewImporter(&failingStore{}, zerolog.Nop(), 0)
	if err := importer.Watch(context.Background(), filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("expected error for missing directory")
	}
}
