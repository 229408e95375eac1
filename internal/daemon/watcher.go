package daemon

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates the store file was created.
	OpCreate EventOp = iota
	// OpModify indicates the store file was written.
	OpModify
	// OpDelete indicates the store file was removed.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// StoreEvent represents a file system event on the store file or one of
// its sidecars.
type StoreEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	// Op is the operation that occurred (create, modify, delete).
	Op EventOp
}

// StoreWatcher watches the SQLite store file for writes from other
// processes, typically one-shot CLI invocations queueing entries while
// the daemon runs. SQLite in WAL mode lands most writes in the -wal
// sidecar, so the database file and its sidecars are all tracked.
type StoreWatcher struct {
	watcher *fsnotify.Watcher
	events  chan StoreEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	path    string
}

// NewStoreWatcher creates a new StoreWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewStoreWatcher() (*StoreWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &StoreWatcher{
		watcher: watcher,
		events:  make(chan StoreEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the directory containing the store file.
// fsnotify watches directories, not files, so sibling files show up in
// the raw stream and are filtered out before they reach Events().
func (sw *StoreWatcher) Start(storePath string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(storePath)
	if err != nil {
		return fmt.Errorf("failed to resolve store path: %w", err)
	}
	sw.path = abs

	if err := sw.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch store directory %s: %w", filepath.Dir(abs), err)
	}

	sw.running = true
	sw.wg.Add(1)
	go sw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (sw *StoreWatcher) Stop() error {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return nil
	}
	sw.running = false
	sw.mu.Unlock()

	// Signal shutdown
	close(sw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := sw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	// Wait for event processing to finish
	sw.wg.Wait()

	// Close channels
	close(sw.events)
	close(sw.errors)

	return nil
}

// Events returns the channel that emits StoreEvent notifications.
// This channel is closed when the watcher is stopped.
func (sw *StoreWatcher) Events() <-chan StoreEvent {
	return sw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (sw *StoreWatcher) Errors() <-chan error {
	return sw.errors
}

// IsRunning returns true if the watcher is currently running.
func (sw *StoreWatcher) IsRunning() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.running
}

// processEvents is the main event loop that processes fsnotify events
// and converts them to StoreEvent notifications.
func (sw *StoreWatcher) processEvents() {
	defer sw.wg.Done()

	for {
		select {
		case <-sw.done:
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}

			if storeEvent, ok := sw.convertEvent(event); ok {
				select {
				case sw.events <- storeEvent:
				case <-sw.done:
					return
				}
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case sw.errors <- err:
			case <-sw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a StoreEvent.
// Returns (StoreEvent, true) if the event should be processed,
// or (StoreEvent{}, false) if the event should be ignored.
func (sw *StoreWatcher) convertEvent(event fsnotify.Event) (StoreEvent, bool) {
	if !sw.matches(event.Name) {
		return StoreEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create)
		op = OpDelete
	default:
		// Ignore chmod and other events
		return StoreEvent{}, false
	}

	return StoreEvent{
		Path: event.Name,
		Op:   op,
	}, true
}

// matches reports whether the event path is the store file or one of its
// SQLite sidecars.
func (sw *StoreWatcher) matches(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if filepath.Dir(abs) != filepath.Dir(sw.path) {
		return false
	}

	base := filepath.Base(abs)
	want := filepath.Base(sw.path)
	return base == want || base == want+"-wal" || base == want+"-journal"
}
