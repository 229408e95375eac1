package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/timetracker-dev/tt/internal/outbox"
	"github.com/timetracker-dev/tt/internal/schema"
	"github.com/timetracker-dev/tt/internal/storage"
)

// testStorePath returns a temporary path for test databases
func testStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// openTestStore opens a store on a temporary database
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testEntry builds a valid queue entry with the given id and timestamp
func testEntry(id string, ts time.Time) *outbox.Entry {
	return &outbox.Entry{
		ID:        id,
		Payload:   []byte(`{"project_id":1,"description":"work"}`),
		AuthToken: "tok-abc",
		TargetURL: "https://api.example.com/api/v1/time-entries",
		Method:    "POST",
		Timestamp: ts,
	}
}

// TestOpen_Success tests database creation and migration on first open
func TestOpen_Success(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}

	// All tables from the embedded migrations must exist
	tables := []string{"pending_entries", "offline_data", "cached_projects", "cached_tasks", "schema_version"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := s.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() failed: %v", err)
	}
	if v != 2 {
		t.Errorf("SchemaVersion() = %d, want 2", v)
	}
}

// TestOpen_Reopen tests that data survives close and reopen
func TestOpen_Reopen(t *testing.T) {
	path := testStorePath(t)
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.EnqueueEntry(ctx, testEntry("1700000000000-aaaaaaaaa", time.Now().UTC())); err != nil {
		t.Fatalf("EnqueueEntry() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	count, err := s2.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("PendingCount() after reopen = %d, want 1", count)
	}
}

// TestOpen_UpgradesOldStore tests the additive migration path from a store
// laid out by a build that predates retry attempt tracking
func TestOpen_UpgradesOldStore(t *testing.T) {
	path := testStorePath(t)

	// Lay out a version 1 store by hand: no last_attempt_at column.
	raw, err := sql.Open(DefaultDriver, "file:"+path)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	stmts := []string{
		`CREATE TABLE pending_entries (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			auth_token TEXT,
			target_url TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT 'POST',
			timestamp TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE offline_data (key TEXT PRIMARY KEY, data BLOB NOT NULL, timestamp TEXT NOT NULL)`,
		`CREATE TABLE cached_projects (id INTEGER PRIMARY KEY, name TEXT NOT NULL, description TEXT, color TEXT, is_active INTEGER NOT NULL DEFAULT 1, created_at TEXT)`,
		`CREATE TABLE cached_tasks (id INTEGER PRIMARY KEY, project_id INTEGER NOT NULL, title TEXT NOT NULL, description TEXT, status TEXT NOT NULL DEFAULT 'todo', priority TEXT NOT NULL DEFAULT 'normal', position INTEGER NOT NULL DEFAULT 0, due_at TEXT, completed_at TEXT, created_at TEXT, updated_at TEXT)`,
		`CREATE TABLE schema_version (version INTEGER NOT NULL)`,
		`INSERT INTO schema_version (version) VALUES (1)`,
		`INSERT INTO pending_entries (id, payload, auth_token, target_url, method, timestamp, retry_count)
		 VALUES ('1700000000000-aaaaaaaaa', '{"project_id":1}', 'tok', 'https://api.example.com/x', 'POST', '2026-02-03T09:00:00Z', 2)`,
	}
	for _, stmt := range stmts {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("setup statement failed: %v", err)
		}
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("setup close failed: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() on old store failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() failed: %v", err)
	}
	if v != 2 {
		t.Errorf("SchemaVersion() = %d, want 2", v)
	}

	entries, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("PendingEntries() returned %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2 (existing rows must survive the upgrade)", e.RetryCount)
	}
	if e.LastAttemptAt != nil {
		t.Errorf("LastAttemptAt = %v, want nil for pre-upgrade rows", e.LastAttemptAt)
	}

	// The new column must be writable.
	now := time.Now().UTC()
	e.LastAttemptAt = &now
	if err := s.UpdateEntry(ctx, e); err != nil {
		t.Errorf("UpdateEntry() on upgraded store failed: %v", err)
	}
}

// TestEnqueueEntry_RoundTrip tests that every entry field survives storage
func TestEnqueueEntry_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	attempt := ts.Add(time.Minute)
	in := &outbox.Entry{
		ID:            "1770109200000-k3j9x2m1q",
		Payload:       []byte(`{"project_id":7,"description":"deep work"}`),
		AuthToken:     "tok-xyz",
		TargetURL:     "https://api.example.com/api/v1/time-entries",
		Method:        "PUT",
		Timestamp:     ts,
		RetryCount:    1,
		LastAttemptAt: &attempt,
	}
	if err := s.EnqueueEntry(ctx, in); err != nil {
		t.Fatalf("EnqueueEntry() failed: %v", err)
	}

	entries, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("PendingEntries() returned %d entries, want 1", len(entries))
	}

	got := entries[0]
	if got.ID != in.ID {
		t.Errorf("ID = %q, want %q", got.ID, in.ID)
	}
	if string(got.Payload) != string(in.Payload) {
		t.Errorf("Payload = %s, want %s", got.Payload, in.Payload)
	}
	if got.AuthToken != in.AuthToken {
		t.Errorf("AuthToken = %q, want %q", got.AuthToken, in.AuthToken)
	}
	if got.TargetURL != in.TargetURL {
		t.Errorf("TargetURL = %q, want %q", got.TargetURL, in.TargetURL)
	}
	if got.Method != "PUT" {
		t.Errorf("Method = %q, want PUT", got.Method)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if got.LastAttemptAt == nil || !got.LastAttemptAt.Equal(attempt) {
		t.Errorf("LastAttemptAt = %v, want %v", got.LastAttemptAt, attempt)
	}
}

// TestEnqueueEntry_EmptyToken tests that a missing auth token round-trips
// as empty, not as the string "null"
func TestEnqueueEntry_EmptyToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntry("1700000000000-aaaaaaaaa", time.Now().UTC())
	e.AuthToken = ""
	if err := s.EnqueueEntry(ctx, e); err != nil {
		t.Fatalf("EnqueueEntry() failed: %v", err)
	}

	entries, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	if entries[0].AuthToken != "" {
		t.Errorf("AuthToken = %q, want empty", entries[0].AuthToken)
	}
}

// TestEnqueueEntry_Invalid tests that invalid entries are rejected before
// touching the queue
func TestEnqueueEntry_Invalid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntry("1700000000000-aaaaaaaaa", time.Now().UTC())
	e.TargetURL = ""
	if err := s.EnqueueEntry(ctx, e); err == nil {
		t.Error("EnqueueEntry() accepted entry without target url")
	}

	count, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("PendingCount() = %d, want 0 after rejected enqueue", count)
	}
}

// TestPendingEntries_Order tests oldest-first ordering with id tie-break
func TestPendingEntries_Order(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

	// Enqueued out of order on purpose.
	for _, e := range []*outbox.Entry{
		testEntry("1770109202000-ccccccccc", base.Add(2*time.Second)),
		testEntry("1770109200000-aaaaaaaaa", base),
		testEntry("1770109201000-bbbbbbbbb", base.Add(time.Second)),
	} {
		if err := s.EnqueueEntry(ctx, e); err != nil {
			t.Fatalf("EnqueueEntry(%s) failed: %v", e.ID, err)
		}
	}

	// Same second, distinct millisecond prefixes.
	for _, e := range []*outbox.Entry{
		testEntry("1770109203500-zzzzzzzzz", base.Add(3*time.Second)),
		testEntry("1770109203100-mmmmmmmmm", base.Add(3*time.Second)),
	} {
		if err := s.EnqueueEntry(ctx, e); err != nil {
			t.Fatalf("EnqueueEntry(%s) failed: %v", e.ID, err)
		}
	}

	entries, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}

	want := []string{
		"1770109200000-aaaaaaaaa",
		"1770109201000-bbbbbbbbb",
		"1770109202000-ccccccccc",
		"1770109203100-mmmmmmmmm",
		"1770109203500-zzzzzzzzz",
	}
	if len(entries) != len(want) {
		t.Fatalf("PendingEntries() returned %d entries, want %d", len(entries), len(want))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, id)
		}
	}
}

// TestUpdateEntry tests retry bookkeeping persistence
func TestUpdateEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntry("1700000000000-aaaaaaaaa", time.Now().UTC())
	if err := s.EnqueueEntry(ctx, e); err != nil {
		t.Fatalf("EnqueueEntry() failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	e.RetryCount = 2
	e.LastAttemptAt = &now
	if err := s.UpdateEntry(ctx, e); err != nil {
		t.Fatalf("UpdateEntry() failed: %v", err)
	}

	entries, err := s.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("PendingEntries() failed: %v", err)
	}
	if entries[0].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", entries[0].RetryCount)
	}
	if entries[0].LastAttemptAt == nil || !entries[0].LastAttemptAt.Equal(now) {
		t.Errorf("LastAttemptAt = %v, want %v", entries[0].LastAttemptAt, now)
	}
}

// TestUpdateEntry_NotFound tests updating an entry that was never queued
func TestUpdateEntry_NotFound(t *testing.T) {
	s := openTestStore(t)

	e := testEntry("1700000000000-missing00", time.Now().UTC())
	err := s.UpdateEntry(context.Background(), e)
	if !storage.IsNotFound(err) {
		t.Errorf("UpdateEntry() error = %v, want ErrNotFound", err)
	}
}

// TestRemoveEntry tests deletion and idempotent re-deletion
func TestRemoveEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntry("1700000000000-aaaaaaaaa", time.Now().UTC())
	if err := s.EnqueueEntry(ctx, e); err != nil {
		t.Fatalf("EnqueueEntry() failed: %v", err)
	}

	if err := s.RemoveEntry(ctx, e.ID); err != nil {
		t.Fatalf("RemoveEntry() failed: %v", err)
	}
	count, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("PendingCount() = %d, want 0", count)
	}

	// Removing an id that is gone is not an error.
	if err := s.RemoveEntry(ctx, e.ID); err != nil {
		t.Errorf("RemoveEntry() second call failed: %v", err)
	}
}

// TestPutBlob_LastWriteWins tests that rewriting a key replaces its value
func TestPutBlob_LastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutBlob(ctx, "auth_token", []byte("first")); err != nil {
		t.Fatalf("PutBlob() failed: %v", err)
	}
	if err := s.PutBlob(ctx, "auth_token", []byte("second")); err != nil {
		t.Fatalf("PutBlob() overwrite failed: %v", err)
	}

	data, err := s.GetBlob(ctx, "auth_token")
	if err != nil {
		t.Fatalf("GetBlob() failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("GetBlob() = %q, want %q", data, "second")
	}
}

// TestGetBlob_Binary tests that arbitrary bytes round-trip intact
func TestGetBlob_Binary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	raw := []byte{0x00, 0xFF, 0x10, 0x00, 0x7F}
	if err := s.PutBlob(ctx, "settings", raw); err != nil {
		t.Fatalf("PutBlob() failed: %v", err)
	}

	data, err := s.GetBlob(ctx, "settings")
	if err != nil {
		t.Fatalf("GetBlob() failed: %v", err)
	}
	if len(data) != len(raw) {
		t.Fatalf("GetBlob() returned %d bytes, want %d", len(data), len(raw))
	}
	for i := range raw {
		if data[i] != raw[i] {
			t.Errorf("data[%d] = %#x, want %#x", i, data[i], raw[i])
		}
	}
}

// TestGetBlob_NotFound tests the missing-key error
func TestGetBlob_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetBlob(context.Background(), "never-stored")
	if !storage.IsNotFound(err) {
		t.Errorf("GetBlob() error = %v, want ErrNotFound", err)
	}
}

// TestDeleteBlob tests removal and subsequent not-found
func TestDeleteBlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutBlob(ctx, "auth_token", []byte("tok")); err != nil {
		t.Fatalf("PutBlob() failed: %v", err)
	}
	if err := s.DeleteBlob(ctx, "auth_token"); err != nil {
		t.Fatalf("DeleteBlob() failed: %v", err)
	}
	if _, err := s.GetBlob(ctx, "auth_token"); !storage.IsNotFound(err) {
		t.Errorf("GetBlob() after delete error = %v, want ErrNotFound", err)
	}
}

// TestReplaceProjects tests replace-all snapshot semantics
func TestReplaceProjects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []*schema.Project{
		{ID: 1, Name: "Website", Color: "#3B82F6", IsActive: true},
		{ID: 2, Name: "Mobile App", Color: "#10B981", IsActive: true},
		{ID: 3, Name: "Archived", IsActive: false},
	}
	if err := s.ReplaceProjects(ctx, first); err != nil {
		t.Fatalf("ReplaceProjects() failed: %v", err)
	}

	got, err := s.CachedProjects(ctx)
	if err != nil {
		t.Fatalf("CachedProjects() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("CachedProjects() returned %d projects, want 3", len(got))
	}
	if got[0].Name != "Website" || !got[0].IsActive {
		t.Errorf("project 1 = %+v", got[0])
	}
	if got[2].IsActive {
		t.Errorf("project 3 should be inactive")
	}

	// A smaller snapshot replaces the whole cache, not merges into it.
	second := []*schema.Project{{ID: 9, Name: "Greenfield", IsActive: true}}
	if err := s.ReplaceProjects(ctx, second); err != nil {
		t.Fatalf("ReplaceProjects() second snapshot failed: %v", err)
	}
	got, err = s.CachedProjects(ctx)
	if err != nil {
		t.Fatalf("CachedProjects() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != 9 {
		t.Errorf("CachedProjects() after replace = %+v, want only project 9", got)
	}

	// An empty snapshot clears the cache.
	if err := s.ReplaceProjects(ctx, nil); err != nil {
		t.Fatalf("ReplaceProjects(nil) failed: %v", err)
	}
	got, err = s.CachedProjects(ctx)
	if err != nil {
		t.Fatalf("CachedProjects() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("CachedProjects() after empty replace = %d projects, want 0", len(got))
	}
}

// TestReplaceProjects_InvalidRollsBack tests that a bad row aborts the
// whole snapshot swap
func TestReplaceProjects_InvalidRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceProjects(ctx, []*schema.Project{{ID: 1, Name: "Keep", IsActive: true}}); err != nil {
		t.Fatalf("ReplaceProjects() failed: %v", err)
	}

	bad := []*schema.Project{
		{ID: 2, Name: "New", IsActive: true},
		{ID: 3, Name: ""}, // invalid
	}
	if err := s.ReplaceProjects(ctx, bad); err == nil {
		t.Fatal("ReplaceProjects() accepted invalid project")
	}

	got, err := s.CachedProjects(ctx)
	if err != nil {
		t.Fatalf("CachedProjects() failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Keep" {
		t.Errorf("CachedProjects() = %+v, want the pre-replace snapshot", got)
	}
}

// TestReplaceTasks tests the task snapshot including nullable times
func TestReplaceTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tasks := []*schema.Task{
		{ID: 1, ProjectID: 1, Title: "Design review", Status: "todo", Priority: "high", Position: 1, DueAt: &due},
		{ID: 2, ProjectID: 1, Title: "Ship it", Status: "in_progress", Priority: "normal", Position: 2},
	}
	if err := s.ReplaceTasks(ctx, tasks); err != nil {
		t.Fatalf("ReplaceTasks() failed: %v", err)
	}

	got, err := s.CachedTasks(ctx)
	if err != nil {
		t.Fatalf("CachedTasks() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("CachedTasks() returned %d tasks, want 2", len(got))
	}
	if got[0].DueAt == nil || !got[0].DueAt.Equal(due) {
		t.Errorf("task 1 DueAt = %v, want %v", got[0].DueAt, due)
	}
	if got[1].DueAt != nil {
		t.Errorf("task 2 DueAt = %v, want nil", got[1].DueAt)
	}
	if got[1].Status != "in_progress" {
		t.Errorf("task 2 Status = %q", got[1].Status)
	}

	if err := s.ReplaceTasks(ctx, nil); err != nil {
		t.Fatalf("ReplaceTasks(nil) failed: %v", err)
	}
	got, err = s.CachedTasks(ctx)
	if err != nil {
		t.Fatalf("CachedTasks() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("CachedTasks() after empty replace = %d tasks, want 0", len(got))
	}
}

// TestClose_OperationsFail tests that a closed store reports unavailable
func TestClose_OperationsFail(t *testing.T) {
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	ctx := context.Background()
	if err := s.EnqueueEntry(ctx, testEntry("1700000000000-aaaaaaaaa", time.Now().UTC())); !storage.IsUnavailable(err) {
		t.Errorf("EnqueueEntry() after close error = %v, want ErrUnavailable", err)
	}
	if _, err := s.PendingEntries(ctx); !storage.IsUnavailable(err) {
		t.Errorf("PendingEntries() after close error = %v, want ErrUnavailable", err)
	}
	if err := s.PutBlob(ctx, "k", []byte("v")); !storage.IsUnavailable(err) {
		t.Errorf("PutBlob() after close error = %v, want ErrUnavailable", err)
	}

	// Double close is fine.
	if err := s.Close(); err != nil {
		t.Errorf("Close() second call failed: %v", err)
	}
}

func BenchmarkEnqueueEntry(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := testEntry(fmt.Sprintf("%d-%09d", now.UnixMilli(), i), now)
		if err := s.EnqueueEntry(ctx, e); err != nil {
			b.Fatalf("EnqueueEntry() failed: %v", err)
		}
	}
}

func BenchmarkPendingEntries(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	// Queue depth of 100, the upper end of normal offline accumulation.
	for i := 0; i < 100; i++ {
		e := testEntry(fmt.Sprintf("%d-%09d", now.UnixMilli(), i), now.Add(time.Duration(i)*time.Second))
		if err := s.EnqueueEntry(ctx, e); err != nil {
			b.Fatalf("EnqueueEntry() failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.PendingEntries(ctx); err != nil {
			b.Fatalf("PendingEntries() failed: %v", err)
		}
	}
}
