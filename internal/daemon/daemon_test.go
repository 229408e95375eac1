package daemon

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timetracker-dev/tt/internal/engine"
	"github.com/timetracker-dev/tt/internal/storage/memory"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// testEngine builds an initialized engine over an in-memory store whose
// probes hit baseURL.
func testEngine(t *testing.T, baseURL string) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RequestTimeout = 2 * time.Second
	cfg.ProbeInterval = time.Hour // the immediate first probe is enough
	cfg.WakeInterval = time.Hour
	cfg.Logger = log.New(io.Discard, "", 0)

	eng := engine.New(memory.New(), cfg)
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, &Config{StorePath: "/tmp/x.db"}); err == nil {
		t.Error("New(nil engine) succeeded, want error")
	}

	eng := testEngine(t, "http://127.0.0.1:1")
	if _, err := New(eng, &Config{}); err == nil {
		t.Error("New with empty store path succeeded, want error")
	}
}

func TestDaemon_SyncsOnStoreChange(t *testing.T) {
	ctx := context.Background()
	var served atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/health") {
			w.WriteHeader(http.StatusOK)
			return
		}
		served.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	dir := t.TempDir()
	storePath := filepath.Join(dir, "tt.db")
	if err := os.WriteFile(storePath, []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}

	eng := testEngine(t, srv.URL)
	d, err := New(eng, &Config{
		StorePath:        storePath,
		DebounceInterval: 50 * time.Millisecond,
		Logger:           discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Start(runCtx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("daemon did not stop")
		}
	}()

	waitFor(t, 2*time.Second, d.watcher.IsRunning)
	waitFor(t, 2*time.Second, func() bool { return eng.Online(ctx) })

	// Queue after the online transition settles, so the drain below is
	// attributable to the store change alone.
	if _, err := eng.Enqueue(ctx, []byte(`{"i":1}`), "tok", srv.URL+"/api/v1/time-entries"); err != nil {
		t.Fatal(err)
	}

	// An unrelated sibling file must not wake the syncer.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := served.Load(); got != 0 {
		t.Fatalf("unrelated file change caused %d deliveries", got)
	}

	// Touching the store file drains the queue after the debounce.
	if err := os.WriteFile(storePath, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return served.Load() == 1 })

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.PendingEntries != 0 {
		t.Errorf("PendingEntries = %d, want 0", stats.PendingEntries)
	}
}

func TestDaemon_StartStop(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "tt.db")
	if err := os.WriteFile(storePath, []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}

	eng := testEngine(t, "http://127.0.0.1:1")
	d, err := New(eng, &Config{
		StorePath:        storePath,
		DebounceInterval: 50 * time.Millisecond,
		Logger:           discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 2*time.Second, d.watcher.IsRunning)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v after shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if d.watcher.IsRunning() {
		t.Error("watcher still running after stop")
	}
}

func TestStoreWatcher_FiltersSiblings(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "tt.db")
	if err := os.WriteFile(storePath, []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}

	sw, err := NewStoreWatcher()
	if err != nil {
		t.Fatal(err)
	}
	if err := sw.Start(storePath); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sw.Stop()

	// Sibling files never surface.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-sw.Events():
		t.Fatalf("unexpected event for sibling file: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	// The WAL sidecar does.
	if err := os.WriteFile(storePath+"-wal", []byte("w"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev, ok := <-sw.Events():
		if !ok {
			t.Fatal("events channel closed early")
		}
		if filepath.Base(ev.Path) != "tt.db-wal" {
			t.Errorf("event path = %s", ev.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event for WAL write")
	}

	// So does the store file itself.
	if err := os.WriteFile(storePath, []byte("again"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev, ok := <-sw.Events():
		if !ok {
			t.Fatal("events channel closed early")
		}
		if ev.Op != OpModify {
			t.Errorf("event op = %s, want modify", ev.Op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event for store write")
	}
}

func TestStoreWatcher_StopClosesEvents(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "tt.db")
	if err := os.WriteFile(storePath, []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}

	sw, err := NewStoreWatcher()
	if err != nil {
		t.Fatal(err)
	}
	if err := sw.Start(storePath); err != nil {
		t.Fatal(err)
	}
	if err := sw.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sw.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if _, ok := <-sw.Events(); ok {
		t.Error("events channel still open after Stop")
	}

	// Stopping twice is fine.
	if err := sw.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestAcquireLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")

	f1, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock() error = %v", err)
	}
	if _, err := acquireLock(path); err == nil {
		t.Error("second acquireLock succeeded while held")
	}

	releaseLock(f1)
	f2, err := acquireLock(path)
	if err != nil {
		t.Errorf("acquireLock() after release error = %v", err)
	}
	releaseLock(f2)
}
