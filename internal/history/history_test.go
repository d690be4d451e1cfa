package history

import (
	"context"
	"fmt"
	"testing"
)

// openTestStore opens an in-memory Store for use in tests.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_History_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "id-1", "What is Docker?", "A container platform.", "completed", 1.5); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "id-2", "broken one", "", "failed", 0.2); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].ID != "id-2" || entries[0].Status != "failed" {
		t.Errorf("entries[0]: want id-2/failed, got %s/%s", entries[0].ID, entries[0].Status)
	}
	if entries[1].ID != "id-1" || entries[1].Answer != "A container platform." {
		t.Errorf("entries[1]: want id-1 with answer, got %+v", entries[1])
	}
}

func Test_History_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 6 {
		if err := s.Append(ctx, fmt.Sprintf("id-%d", i), "q", "a", "completed", 0.1); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := s.Recent(ctx, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("want 4 entries, got %d", len(entries))
	}
}

func Test_History_EmptyStoreIsEmpty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	entries, err := s.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("want no entries, got %d", len(entries))
	}
}
