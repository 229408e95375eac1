// Package daemon provides the background process that keeps the write
// queue draining.
//
// The daemon:
// 1. Runs the engine's connectivity monitor so online transitions and
//    periodic wakes trigger sync passes
// 2. Watches the store file for writes from other processes
// 3. Debounces bursts of writes into a single sync pass
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/timetracker-dev/tt/internal/engine"
	tsync "github.com/timetracker-dev/tt/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// StorePath is the SQLite database file to watch for writes from
	// other processes.
	StorePath string

	// DebounceInterval is how long to wait before reacting to store
	// changes. This batches rapid updates together.
	DebounceInterval time.Duration

	// LockPath guards against two daemons draining the same store.
	// Defaults to StorePath + ".lock".
	LockPath string

	// LogPath, when set, routes daemon logs to a rotating file instead
	// of stderr.
	LogPath string

	// Logger overrides the log destination entirely. When nil, one is
	// built from LogPath.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
	}
}

// NewLogger builds the daemon's logger. With a log path it writes to a
// rotating file, otherwise to stderr. Long-running daemons share this
// logger with the engine so one file captures both.
func NewLogger(logPath string) *log.Logger {
	out := io.Writer(os.Stderr)
	if logPath != "" {
		out = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return log.New(out, "[daemon] ", log.LstdFlags)
}

// Daemon orchestrates the connectivity monitor and store watching.
type Daemon struct {
	engine *engine.Engine
	config *Config
	logger *log.Logger

	watcher *StoreWatcher
	lock    *os.File

	changed   map[string]time.Time // filepath -> timestamp
	changedMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance around an initialized engine.
//
// Use Start() to begin watching and syncing.
func New(eng *engine.Engine, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.StorePath == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 2 * time.Second
	}
	if config.LockPath == "" {
		config.LockPath = config.StorePath + ".lock"
	}

	logger := config.Logger
	if logger == nil {
		logger = NewLogger(config.LogPath)
	}

	watcher, err := NewStoreWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:  eng,
		config:  config,
		logger:  logger,
		watcher: watcher,
		changed: make(map[string]time.Time),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Take the store lock so only one daemon drains this store
// 2. Start the connectivity monitor (the first successful probe drains
//    any backlog queued while the daemon was down)
// 3. Watch the store file and debounce changes into sync passes
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting daemon")

	lock, err := acquireLock(d.config.LockPath)
	if err != nil {
		return err
	}
	d.lock = lock

	if err := d.engine.StartMonitor(); err != nil {
		releaseLock(d.lock)
		return fmt.Errorf("failed to start connectivity monitor: %w", err)
	}

	if err := d.watcher.Start(d.config.StorePath); err != nil {
		d.engine.StopMonitor()
		releaseLock(d.lock)
		return err
	}

	d.logger.Printf("Watching: %s", d.config.StorePath)

	d.wg.Add(2)
	go d.collectStoreEvents()
	go d.processChanges()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")

	// Signal shutdown
	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.logger.Printf("Error closing watcher: %v", err)
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	d.engine.StopMonitor()
	releaseLock(d.lock)
	d.lock = nil

	d.logger.Println("Daemon stopped")
	return nil
}

// collectStoreEvents queues store change events for debounced handling.
func (d *Daemon) collectStoreEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a path to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changedMu.Lock()
	defer d.changedMu.Unlock()

	d.changed[path] = time.Now()
}

// processChanges drains the change queue on the debounce interval.
func (d *Daemon) processChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges runs a sync pass once queued changes have been
// quiet for the debounce interval.
func (d *Daemon) processPendingChanges() {
	d.changedMu.Lock()
	now := time.Now()
	due := false
	for path, queuedAt := range d.changed {
		// Only process if enough time has passed (debouncing)
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.changed, path)
		due = true
	}
	d.changedMu.Unlock()

	if !due {
		return
	}
	if !d.engine.Online(d.ctx) {
		// A dead link would burn delivery attempts; the online
		// transition drains the backlog instead.
		return
	}

	res, err := d.engine.SyncDue(d.ctx)
	if err != nil {
		if !errors.Is(err, tsync.ErrSyncInProgress) && !errors.Is(err, context.Canceled) {
			d.logger.Printf("Error syncing after store change: %v", err)
		}
		return
	}
	if res.Attempted() > 0 || res.Deferred > 0 {
		d.logger.Printf("Store change sync: %d synced, %d failed, %d dropped, %d deferred",
			res.Synced, res.Failed, res.Dropped, res.Deferred)
	}
}
