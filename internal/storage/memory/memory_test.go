package memory

import (
	"context"
	"testing"
	"time"

	"github.com/timetracker-dev/tt/internal/outbox"
	"github.com/timetracker-dev/tt/internal/schema"
	"github.com/timetracker-dev/tt/internal/storage"
)

func testEntry(id string, ts time.Time) *outbox.Entry {
	return &outbox.Entry{
		ID:        id,
		Payload:   []byte(`{"project_id":1}`),
		TargetURL: "https://api.example.com/api/v1/time-entries",
		Method:    "POST",
		Timestamp: ts,
	}
}

// TestQueue_Order tests oldest-first ordering with id tie-break
func TestQueue_Order(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

	ids := []string{"1770109202000-ccccccccc", "1770109200000-aaaaaaaaa", "1770109201000-bbbbbbbbb"}
	offsets := []time.Duration{2 * time.Second, 0, time.Second}
	for i, id := range ids {
		if err := s.EnqueueEntry(ctx, testEntry(id, base.Add(offsets[i]))); err != nil {
			t.Fatalf("EnqueueEntry(%s) failed: %v", id, err)
		}
	}

	entries, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	want := []string{"1770109200000-aaaaaaaaa", "1770109201000-bbbbbbbbb", "1770109202000-ccccccccc"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, id)
		}
	}
}

// TestQueue_DuplicateID tests that re-enqueueing an id is rejected
func TestQueue_DuplicateID(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := testEntry("1770109200000-aaaaaaaaa", time.Now().UTC())

	if err := s.EnqueueEntry(ctx, e); err != nil {
		t.Fatalf("EnqueueEntry() failed: %v", err)
	}
	if err := s.EnqueueEntry(ctx, e); err == nil {
		t.Error("EnqueueEntry() accepted duplicate id")
	}
}

// TestEnqueueEntry_CopiesInput tests that the store keeps its own copy,
// so mutating the caller's entry after enqueue changes nothing
func TestEnqueueEntry_CopiesInput(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := testEntry("1770109200000-aaaaaaaaa", time.Now().UTC())
	if err := s.EnqueueEntry(ctx, e); err != nil {
		t.Fatalf("EnqueueEntry() failed: %v", err)
	}

	e.Method = "PUT"
	e.RetryCount = 99

	entries, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	if entries[0].Method != "POST" {
		t.Errorf("stored method = %q, want POST", entries[0].Method)
	}
	if entries[0].RetryCount != 0 {
		t.Errorf("stored retry count = %d, want 0", entries[0].RetryCount)
	}
}

// TestPendingEntries_Snapshot tests that returned entries are copies
func TestPendingEntries_Snapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.EnqueueEntry(ctx, testEntry("1770109200000-aaaaaaaaa", time.Now().UTC())); err != nil {
		t.Fatalf("EnqueueEntry() failed: %v", err)
	}

	entries, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	entries[0].RetryCount = 99

	again, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	if again[0].RetryCount != 0 {
		t.Errorf("mutating a snapshot leaked into the store: retry count %d", again[0].RetryCount)
	}
}

// TestUpdateEntry_NotFound tests updating an entry that was never queued
func TestUpdateEntry_NotFound(t *testing.T) {
	s := New()
	err := s.UpdateEntry(context.Background(), testEntry("1770109200000-missing00", time.Now().UTC()))
	if !storage.IsNotFound(err) {
		t.Errorf("UpdateEntry() error = %v, want ErrNotFound", err)
	}
}

// TestBlobs tests last-write-wins and copy isolation
func TestBlobs(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.PutBlob(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("PutBlob() failed: %v", err)
	}
	if err := s.PutBlob(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("PutBlob() failed: %v", err)
	}

	data, err := s.GetBlob(ctx, "k")
	if err != nil {
		t.Fatalf("GetBlob() failed: %v", err)
	}
	if string(data) != "two" {
		t.Errorf("GetBlob() = %q, want %q", data, "two")
	}

	data[0] = 'X'
	again, err := s.GetBlob(ctx, "k")
	if err != nil {
		t.Fatalf("GetBlob() failed: %v", err)
	}
	if string(again) != "two" {
		t.Errorf("mutating a returned blob leaked into the store: %q", again)
	}

	if _, err := s.GetBlob(ctx, "missing"); !storage.IsNotFound(err) {
		t.Errorf("GetBlob(missing) error = %v, want ErrNotFound", err)
	}
}

// TestReplaceProjects tests replace-all semantics and id ordering
func TestReplaceProjects(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.ReplaceProjects(ctx, []*schema.Project{
		{ID: 3, Name: "C", IsActive: true},
		{ID: 1, Name: "A", IsActive: true},
	}); err != nil {
		t.Fatalf("ReplaceProjects() failed: %v", err)
	}

	got, err := s.CachedProjects(ctx)
	if err != nil {
		t.Fatalf("CachedProjects() failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Errorf("CachedProjects() = %+v, want ids [1 3]", got)
	}

	if err := s.ReplaceProjects(ctx, nil); err != nil {
		t.Fatalf("ReplaceProjects(nil) failed: %v", err)
	}
	got, err = s.CachedProjects(ctx)
	if err != nil {
		t.Fatalf("CachedProjects() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("CachedProjects() after empty replace = %d, want 0", len(got))
	}
}

// TestSetAvailable tests the simulated outage switch
func TestSetAvailable(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.SetAvailable(false)
	if err := s.EnqueueEntry(ctx, testEntry("1770109200000-aaaaaaaaa", time.Now().UTC())); !storage.IsUnavailable(err) {
		t.Errorf("EnqueueEntry() while unavailable error = %v, want ErrUnavailable", err)
	}
	if _, err := s.PendingCount(ctx); !storage.IsUnavailable(err) {
		t.Errorf("PendingCount() while unavailable error = %v, want ErrUnavailable", err)
	}
	if err := s.ReplaceTasks(ctx, nil); !storage.IsUnavailable(err) {
		t.Errorf("ReplaceTasks() while unavailable error = %v, want ErrUnavailable", err)
	}

	s.SetAvailable(true)
	if err := s.EnqueueEntry(ctx, testEntry("1770109200000-aaaaaaaaa", time.Now().UTC())); err != nil {
		t.Errorf("EnqueueEntry() after recovery failed: %v", err)
	}
}

// TestClose tests that a closed store stays unavailable
func TestClose(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := s.PendingCount(context.Background()); !storage.IsUnavailable(err) {
		t.Errorf("PendingCount() after close error = %v, want ErrUnavailable", err)
	}
}
