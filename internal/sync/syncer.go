package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/timetracker-dev/tt/internal/events"
	"github.com/timetracker-dev/tt/internal/outbox"
	"github.com/timetracker-dev/tt/internal/storage"
)

// ErrSyncInProgress is returned when a drain is requested while another
// one is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Config holds reconciler tuning.
type Config struct {
	// RequestTimeout bounds each delivery attempt. An attempt that
	// exceeds it counts as failed, exactly like a transport error.
	RequestTimeout time.Duration

	// Backoff maps an entry's retry count to the wait before its next
	// automatic attempt. Only SyncDue honors it.
	Backoff func(retryCount int) time.Duration

	// DeviceID is sent as X-Device-ID with every delivery so the server
	// can attribute replayed mutations to the originating client.
	DeviceID string

	// Logger for per-entry outcomes. Defaults to stderr.
	Logger *log.Logger
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout: 15 * time.Second,
		Backoff:        DefaultBackoff,
	}
}

// DefaultBackoff doubles the wait per failed attempt: 1s after the first
// failure, 2s after the second, capped at five minutes.
func DefaultBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	if retryCount > 10 {
		retryCount = 10
	}
	d := time.Second << (retryCount - 1)
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// syncer implements the Syncer interface.
type syncer struct {
	store   storage.Store
	client  *http.Client
	emitter *events.Emitter
	cfg     *Config
	logger  *log.Logger

	inFlight atomic.Bool
}

// New creates a reconciler draining store through client.
//
// The store must be open before passing it in. A nil client falls back to
// a plain http.Client; the per-attempt timeout comes from cfg, not the
// client. A nil emitter disables event reporting.
//
// Example:
//
//	store, err := sqlite.Open(path)
//	if err != nil {
//	    return err
//	}
//	syncer := sync.New(store, nil, emitter, nil)
func New(store storage.Store, client *http.Client, emitter *events.Emitter, cfg *Config) Syncer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &syncer{
		store:   store,
		client:  client,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Sync implements Syncer.Sync.
func (s *syncer) Sync(ctx context.Context) (Result, error) {
	return s.drain(ctx, false)
}

// SyncDue implements Syncer.SyncDue.
func (s *syncer) SyncDue(ctx context.Context) (Result, error) {
	return s.drain(ctx, true)
}

// InFlight implements Syncer.InFlight.
func (s *syncer) InFlight() bool {
	return s.inFlight.Load()
}

// drain runs one reconciliation pass over a snapshot of the queue.
func (s *syncer) drain(ctx context.Context, respectBackoff bool) (Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	// Snapshot once; entries enqueued during the pass wait for the next
	// trigger.
	entries, err := s.store.PendingEntries(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to snapshot queue: %w", err)
	}
	if len(entries) == 0 {
		return Result{}, nil
	}

	s.emitter.Emit(events.TypeSyncStarted, events.SyncData{Pending: len(entries)})
	start := time.Now()

	var res Result
	var loopErr error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}
		if respectBackoff && !s.due(e, time.Now()) {
			res.Deferred++
			continue
		}

		if err := s.deliver(ctx, e); err != nil {
			if ctx.Err() != nil {
				// Caller cancellation, not a delivery verdict. Leave
				// the entry untouched for the next pass.
				loopErr = ctx.Err()
				break
			}
			s.recordFailure(ctx, e, err, &res)
		} else {
			s.recordSuccess(ctx, e, &res)
		}
	}

	s.emitter.Emit(events.TypeSyncCompleted, events.SyncData{
		Pending:  len(entries),
		Synced:   res.Synced,
		Failed:   res.Failed,
		Dropped:  res.Dropped,
		Deferred: res.Deferred,
		Duration: time.Since(start),
	})
	s.logger.Printf("sync pass: %d synced, %d failed, %d dropped, %d deferred (of %d pending)",
		res.Synced, res.Failed, res.Dropped, res.Deferred, len(entries))
	return res, loopErr
}

// due reports whether the entry's backoff window has elapsed.
func (s *syncer) due(e *outbox.Entry, now time.Time) bool {
	if e.RetryCount == 0 || e.LastAttemptAt == nil {
		return true
	}
	return now.Sub(*e.LastAttemptAt) >= s.cfg.Backoff(e.RetryCount)
}

// deliver replays one queued mutation. Any transport error, per-attempt
// timeout, or non-2xx status is a failed attempt.
func (s *syncer) deliver(ctx context.Context, e *outbox.Entry) error {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, e.Method, e.TargetURL, bytes.NewReader(e.Payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.AuthToken)
	}
	if s.cfg.DeviceID != "" {
		req.Header.Set("X-Device-ID", s.cfg.DeviceID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server rejected entry: %s", resp.Status)
	}
	return nil
}

// recordSuccess removes an accepted entry from the queue.
func (s *syncer) recordSuccess(ctx context.Context, e *outbox.Entry, res *Result) {
	if err := s.store.RemoveEntry(ctx, e.ID); err != nil {
		// The server accepted the mutation but the entry is still
		// queued; the next pass replays it and the server sees a
		// duplicate. Nothing to do here but say so.
		s.logger.Printf("WARNING: synced entry %s could not be removed from queue: %v", e.ID, err)
	}
	res.Synced++
	s.emitter.Emit(events.TypeEntrySynced, events.EntryData{
		ID: e.ID, TargetURL: e.TargetURL, Method: e.Method, RetryCount: e.RetryCount,
	})
	s.logger.Printf("synced entry %s (%s %s)", e.ID, e.Method, e.TargetURL)
}

// recordFailure bumps the retry count and either keeps the entry for the
// next pass or evicts it once its attempts are spent.
func (s *syncer) recordFailure(ctx context.Context, e *outbox.Entry, cause error, res *Result) {
	e.RetryCount++
	now := time.Now().UTC()
	e.LastAttemptAt = &now
	res.Failed++

	if e.Exhausted() {
		if err := s.store.RemoveEntry(ctx, e.ID); err != nil {
			s.logger.Printf("WARNING: failed to evict entry %s: %v", e.ID, err)
		}
		res.Dropped++
		s.emitter.Emit(events.TypeEntryDropped, events.EntryData{
			ID: e.ID, TargetURL: e.TargetURL, Method: e.Method,
			RetryCount: e.RetryCount, Error: cause.Error(),
		})
		s.logger.Printf("dropping entry %s after %d attempts: %v", e.ID, e.RetryCount, cause)
		return
	}

	if err := s.store.UpdateEntry(ctx, e); err != nil {
		s.logger.Printf("WARNING: failed to record attempt for entry %s: %v", e.ID, err)
	}
	s.emitter.Emit(events.TypeEntryFailed, events.EntryData{
		ID: e.ID, TargetURL: e.TargetURL, Method: e.Method,
		RetryCount: e.RetryCount, Error: cause.Error(),
	})
	s.logger.Printf("entry %s attempt %d failed: %v", e.ID, e.RetryCount, cause)
}
