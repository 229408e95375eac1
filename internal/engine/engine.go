// Package engine ties the offline store, the reconciler, and the
// connectivity monitor into the client-facing API.
//
// Construction is explicit: New wires the pieces around a Store the caller
// opened, and Initialize performs the startup reads (store compatibility
// check, device identity, persisted counters) before any operation is
// allowed. Nothing happens at import time, so tests and embedders control
// exactly when the store is touched.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/timetracker-dev/tt/internal/events"
	"github.com/timetracker-dev/tt/internal/netmon"
	"github.com/timetracker-dev/tt/internal/outbox"
	"github.com/timetracker-dev/tt/internal/schema"
	"github.com/timetracker-dev/tt/internal/storage"
	tsync "github.com/timetracker-dev/tt/internal/sync"
)

// Version is the engine release recorded into every store it touches.
// A store written by a newer major version is refused at Initialize.
const Version = "v1.2.0"

// API paths composed against Config.BaseURL.
const (
	PathTimeEntries = "/api/v1/time-entries"
	PathProjects    = "/api/v1/projects"
	PathTasks       = "/api/v1/tasks"
	PathLogin       = "/api/v1/auth/login"
	PathHealth      = "/health"
)

// Reserved offline_data keys the engine maintains for itself. They share
// the blob namespace with caller data and follow the same last-write-wins
// rules.
const (
	keyDeviceID = "device_id"
	keyVersion  = "engine_version"
	keyLastSync = "last_sync"
	keyDropped  = "dropped_total"
)

var (
	// ErrNotInitialized is returned when an operation runs before
	// Initialize has completed.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrStoreNewer is returned when the store was written by a newer
	// major engine version than this build understands.
	ErrStoreNewer = errors.New("store written by a newer engine version")
)

// Config holds engine tuning.
type Config struct {
	// BaseURL is the TimeTracker API root.
	BaseURL string

	// RequestTimeout bounds each delivery attempt during sync.
	RequestTimeout time.Duration

	// ProbeInterval and WakeInterval tune the connectivity monitor.
	ProbeInterval time.Duration
	WakeInterval  time.Duration

	// DeviceID overrides the persisted device identity. Usually left
	// empty so Initialize loads or mints one.
	DeviceID string

	// HTTPClient is used for deliveries and probes.
	HTTPClient *http.Client

	// Logger for lifecycle and sync outcomes. Defaults to stderr.
	Logger *log.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8000",
		RequestTimeout: 15 * time.Second,
		ProbeInterval:  30 * time.Second,
		WakeInterval:   5 * time.Minute,
	}
}

// Stats is the queue and connectivity snapshot reported to callers.
type Stats struct {
	PendingEntries int        `json:"pending_entries"`
	Online         bool       `json:"online"`
	LastSync       *time.Time `json:"last_sync"`
	Dropped        uint64     `json:"dropped"`
	DeviceID       string     `json:"device_id"`
}

// Engine is the offline client runtime.
type Engine struct {
	store   storage.Store
	emitter *events.Emitter
	cfg     *Config
	logger  *log.Logger

	syncer  tsync.Syncer
	monitor *netmon.Monitor

	ctx    context.Context
	cancel context.CancelFunc

	deviceID string
	ready    atomic.Bool
	dropped  atomic.Uint64
	lastSync atomic.Pointer[time.Time]
}

// New wires an engine around an open store. Call Initialize before using
// it and Close when done.
func New(store storage.Store, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.WakeInterval <= 0 {
		cfg.WakeInterval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:   store,
		emitter: events.NewEmitter(),
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Initialize performs the startup reads against the store: version
// compatibility, device identity, and persisted counters. It must run
// before any other operation; calling it twice is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.ready.Load() {
		return nil
	}

	if err := e.checkVersion(ctx); err != nil {
		return err
	}
	if err := e.loadDeviceID(ctx); err != nil {
		return err
	}
	if err := e.loadCounters(ctx); err != nil {
		return err
	}

	e.syncer = tsync.New(e.store, e.cfg.HTTPClient, e.emitter, &tsync.Config{
		RequestTimeout: e.cfg.RequestTimeout,
		DeviceID:       e.deviceID,
		Logger:         e.logger,
	})
	e.monitor = netmon.New(e.handleTrigger, e.emitter, &netmon.Config{
		ProbeInterval: e.cfg.ProbeInterval,
		WakeInterval:  e.cfg.WakeInterval,
		Probe:         netmon.HTTPProbe(e.cfg.HTTPClient, e.URL(PathHealth)),
		Logger:        e.logger,
	})

	e.ready.Store(true)
	e.logger.Printf("engine initialized (device %s)", e.deviceID)
	return nil
}

// URL joins an API path onto the configured base URL.
func (e *Engine) URL(path string) string {
	return strings.TrimRight(e.cfg.BaseURL, "/") + path
}

// DeviceID returns the persistent identity sent with every delivery.
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// Events returns the engine's event emitter for observers.
func (e *Engine) Events() *events.Emitter {
	return e.emitter
}

// Enqueue freezes a mutation into the write queue and returns its id.
// The entry carries everything needed to replay it later: payload, target
// URL, method (POST), and the auth token captured now.
func (e *Engine) Enqueue(ctx context.Context, payload []byte, authToken, targetURL string) (string, error) {
	if err := e.guard(); err != nil {
		return "", err
	}

	entry, err := outbox.New(payload, authToken, targetURL)
	if err != nil {
		return "", err
	}
	if err := e.store.EnqueueEntry(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to enqueue: %w", err)
	}

	e.emitter.Emit(events.TypeEntryQueued, events.EntryData{
		ID: entry.ID, TargetURL: entry.TargetURL, Method: entry.Method,
	})
	e.logger.Printf("queued %s %s as %s", entry.Method, entry.TargetURL, entry.ID)
	return entry.ID, nil
}

// Sync drains the queue now, ignoring backoff windows. This is the
// explicit "retry now" surface; automatic triggers go through the
// connectivity monitor instead.
func (e *Engine) Sync(ctx context.Context) (tsync.Result, error) {
	if err := e.guard(); err != nil {
		return tsync.Result{}, err
	}
	res, err := e.syncer.Sync(ctx)
	if err != nil {
		return res, err
	}
	e.recordPass(res)
	return res, nil
}

// SyncDue drains entries whose backoff window has elapsed. The daemon's
// file watcher uses this so repeated wakes cannot burn attempts.
func (e *Engine) SyncDue(ctx context.Context) (tsync.Result, error) {
	if err := e.guard(); err != nil {
		return tsync.Result{}, err
	}
	res, err := e.syncer.SyncDue(ctx)
	if err != nil {
		return res, err
	}
	e.recordPass(res)
	return res, nil
}

// Stats reports queue depth, connectivity, last sync time, and the
// cumulative count of entries dropped after exhausting their attempts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	if err := e.guard(); err != nil {
		return Stats{}, err
	}

	count, err := e.store.PendingCount(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return Stats{
		PendingEntries: count,
		Online:         e.Online(ctx),
		LastSync:       e.lastSync.Load(),
		Dropped:        e.dropped.Load(),
		DeviceID:       e.deviceID,
	}, nil
}

// Online reports connectivity: the monitor's view when it is running, or
// a one-shot probe otherwise.
func (e *Engine) Online(ctx context.Context) bool {
	if e.monitor != nil && e.monitor.Running() {
		return e.monitor.Online()
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return netmon.HTTPProbe(e.cfg.HTTPClient, e.URL(PathHealth))(pctx)
}

// SetOnline forces the connectivity state, for platforms that surface
// their own reachability signal. An offline-to-online edge triggers a
// drain exactly as a probe transition would.
func (e *Engine) SetOnline(online bool) {
	if e.monitor != nil {
		e.monitor.SetOnline(online)
	}
}

// StartMonitor launches connectivity tracking and automatic sync
// triggers. The daemon calls this; one-shot CLI commands do not.
func (e *Engine) StartMonitor() error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.monitor.Start(e.ctx)
}

// StopMonitor halts connectivity tracking.
func (e *Engine) StopMonitor() {
	if e.monitor != nil {
		e.monitor.Stop()
	}
}

// StoreOfflineData stores a keyed blob with last-write-wins semantics.
// The engine reserves the keys device_id, engine_version, last_sync, and
// dropped_total for its own bookkeeping.
func (e *Engine) StoreOfflineData(ctx context.Context, key string, data []byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.store.PutBlob(ctx, key, data)
}

// GetOfflineData returns the blob stored under key.
func (e *Engine) GetOfflineData(ctx context.Context, key string) ([]byte, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.store.GetBlob(ctx, key)
}

// DeleteOfflineData removes the blob stored under key, if any.
func (e *Engine) DeleteOfflineData(ctx context.Context, key string) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.store.DeleteBlob(ctx, key)
}

// CacheProjects replaces the cached project snapshot.
func (e *Engine) CacheProjects(ctx context.Context, projects []*schema.Project) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.store.ReplaceProjects(ctx, projects); err != nil {
		return fmt.Errorf("failed to cache projects: %w", err)
	}
	e.logger.Printf("cached %d projects", len(projects))
	return nil
}

// CachedProjects returns the cached project snapshot.
func (e *Engine) CachedProjects(ctx context.Context) ([]*schema.Project, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.store.CachedProjects(ctx)
}

// CacheTasks replaces the cached task snapshot.
func (e *Engine) CacheTasks(ctx context.Context, tasks []*schema.Task) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.store.ReplaceTasks(ctx, tasks); err != nil {
		return fmt.Errorf("failed to cache tasks: %w", err)
	}
	e.logger.Printf("cached %d tasks", len(tasks))
	return nil
}

// CachedTasks returns the cached task snapshot.
func (e *Engine) CachedTasks(ctx context.Context) ([]*schema.Task, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.store.CachedTasks(ctx)
}

// PendingEntries returns a snapshot of the write queue, oldest first.
func (e *Engine) PendingEntries(ctx context.Context) ([]*outbox.Entry, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.store.PendingEntries(ctx)
}

// Close stops the monitor, interrupts any in-flight drain, and closes the
// store.
func (e *Engine) Close() error {
	e.cancel()
	e.StopMonitor()
	e.ready.Store(false)
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func (e *Engine) guard() error {
	if !e.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

// handleTrigger receives wakes from the connectivity monitor.
func (e *Engine) handleTrigger(reason netmon.Reason) {
	res, err := e.syncer.SyncDue(e.ctx)
	if errors.Is(err, tsync.ErrSyncInProgress) {
		return
	}
	if err != nil {
		e.logger.Printf("automatic sync (%s): %v", reason, err)
		return
	}
	e.recordPass(res)
}

// recordPass updates and persists the last sync time and drop counter
// after a completed pass.
func (e *Engine) recordPass(res tsync.Result) {
	now := time.Now().UTC()
	e.lastSync.Store(&now)
	if res.Dropped > 0 {
		e.dropped.Add(uint64(res.Dropped))
	}
	if res.Attempted() == 0 {
		// Nothing moved. Skip the store write so a watcher of the store
		// file cannot feed the sync loop with its own bookkeeping.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.PutBlob(ctx, keyLastSync, []byte(now.Format(time.RFC3339))); err != nil {
		e.logger.Printf("failed to persist last sync time: %v", err)
	}
	if err := e.store.PutBlob(ctx, keyDropped, []byte(strconv.FormatUint(e.dropped.Load(), 10))); err != nil {
		e.logger.Printf("failed to persist drop counter: %v", err)
	}
}

// checkVersion enforces store compatibility by major version and stamps
// the current version into new or older stores.
func (e *Engine) checkVersion(ctx context.Context) error {
	raw, err := e.store.GetBlob(ctx, keyVersion)
	if storage.IsNotFound(err) {
		return e.store.PutBlob(ctx, keyVersion, []byte(Version))
	}
	if err != nil {
		return fmt.Errorf("failed to read store version: %w", err)
	}

	stored := string(raw)
	if !semver.IsValid(stored) {
		e.logger.Printf("unreadable store version %q, rewriting as %s", stored, Version)
		return e.store.PutBlob(ctx, keyVersion, []byte(Version))
	}
	if semver.Compare(semver.Major(stored), semver.Major(Version)) > 0 {
		return fmt.Errorf("store version %s, engine %s: %w", stored, Version, ErrStoreNewer)
	}
	if semver.Compare(stored, Version) < 0 {
		e.logger.Printf("upgrading store version %s -> %s", stored, Version)
		return e.store.PutBlob(ctx, keyVersion, []byte(Version))
	}
	return nil
}

// loadDeviceID loads the persistent device identity, minting one on the
// first run.
func (e *Engine) loadDeviceID(ctx context.Context) error {
	if e.cfg.DeviceID != "" {
		e.deviceID = e.cfg.DeviceID
		return nil
	}

	raw, err := e.store.GetBlob(ctx, keyDeviceID)
	if err == nil && len(raw) > 0 {
		e.deviceID = string(raw)
		return nil
	}
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("failed to read device id: %w", err)
	}

	id := uuid.NewString()
	if err := e.store.PutBlob(ctx, keyDeviceID, []byte(id)); err != nil {
		return fmt.Errorf("failed to persist device id: %w", err)
	}
	e.deviceID = id
	return nil
}

// loadCounters restores the persisted last sync time and drop counter.
func (e *Engine) loadCounters(ctx context.Context) error {
	raw, err := e.store.GetBlob(ctx, keyDropped)
	if err == nil {
		if n, perr := strconv.ParseUint(string(raw), 10, 64); perr == nil {
			e.dropped.Store(n)
		}
	} else if !storage.IsNotFound(err) {
		return fmt.Errorf("failed to read drop counter: %w", err)
	}

	raw, err = e.store.GetBlob(ctx, keyLastSync)
	if err == nil {
		if t, perr := time.Parse(time.RFC3339, string(raw)); perr == nil {
			e.lastSync.Store(&t)
		}
	} else if !storage.IsNotFound(err) {
		return fmt.Errorf("failed to read last sync time: %w", err)
	}
	return nil
}
