package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func Test_Index_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	const dim = 8
	h := buildTestIndex(t, 120, dim)
	path := filepath.Join(t.TempDir(), "index", "hnsw.bin")

	if err := h.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Len() != h.Len() {
		t.Fatalf("want %d vectors after load, got %d", h.Len(), loaded.Len())
	}
	if loaded.Dimensions() != dim {
		t.Fatalf("want dim %d after load, got %d", dim, loaded.Dimensions())
	}

	// Every inserted vector must come back as its own nearest neighbor at
	// distance zero, with the same id it was saved under.
	for _, id := range h.IDs() {
		internal := h.byID[id]
		vec := h.vectorAt(internal)
		got, err := loaded.Query(vec, 1, 64)
		if err != nil {
			t.Fatalf("query id %d: %v", id, err)
		}
		if got[0].ID != id {
			t.Errorf("id %d: top result is %d", id, got[0].ID)
		}
		if got[0].Distance > 1e-5 {
			t.Errorf("id %d: distance %g after load", id, got[0].Distance)
		}
	}
}

func Test_Index_LoadReproducesQueryResults(t *testing.T) {
	t.Parallel()
	h := buildTestIndex(t, 80, 8)
	path := filepath.Join(t.TempDir(), "hnsw.bin")
	if err := h.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	query := []float32{0.5, -0.1, 0.3, 0.9, 0, 0.2, -0.4, 0.6}
	before, err := h.Query(query, 10, 64)
	if err != nil {
		t.Fatalf("query before: %v", err)
	}
	after, err := loaded.Query(query, 10, 64)
	if err != nil {
		t.Fatalf("query after: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("result counts differ: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("result %d differs after load: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func Test_Index_LoadMissingFileWrapsNotExist(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent.bin"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want os.ErrNotExist, got %v", err)
	}
}

func Test_Index_LoadRejectsGarbage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "garbage.bin")
	if err := os.WriteFile(path, []byte("not a snapshot"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("want error for garbage snapshot, got nil")
	}
}

func Test_Index_SaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	h := buildTestIndex(t, 10, 4)
	if err := h.Save(filepath.Join(dir, "hnsw.bin")); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "hnsw.bin" {
		t.Errorf("want exactly hnsw.bin in dir, got %v", entries)
	}
}
