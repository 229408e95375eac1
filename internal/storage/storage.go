// Package storage defines the persistence contract behind the offline
// engine. The reconciler, the cache operations, and the blob store all run
// against the Store interface so the SQLite backend can be swapped for the
// in-memory one in tests or on platforms without a usable filesystem.
package storage

import (
	"context"
	"errors"

	"github.com/timetracker-dev/tt/internal/outbox"
	"github.com/timetracker-dev/tt/internal/schema"
)

var (
	// ErrNotFound indicates the requested row or blob does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the backing store cannot serve requests,
	// because it failed to open or has been closed.
	ErrUnavailable = errors.New("storage unavailable")
)

// IsNotFound reports whether err indicates a missing row or blob
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err indicates an unusable store
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Store is the durable local store for the offline engine. Implementations
// must be safe for concurrent use by the reconciler, the connectivity
// monitor, and caller-facing operations.
type Store interface {
	// EnqueueEntry appends a mutation to the pending write queue.
	EnqueueEntry(ctx context.Context, e *outbox.Entry) error

	// PendingEntries returns every queued mutation ordered oldest first.
	// The slice is a snapshot; rows enqueued afterwards are not included.
	PendingEntries(ctx context.Context) ([]*outbox.Entry, error)

	// UpdateEntry persists the retry bookkeeping of a queued mutation.
	UpdateEntry(ctx context.Context, e *outbox.Entry) error

	// RemoveEntry deletes a queued mutation by id. Removing an id that is
	// no longer queued is not an error.
	RemoveEntry(ctx context.Context, id string) error

	// PendingCount returns the number of queued mutations.
	PendingCount(ctx context.Context) (int, error)

	// PutBlob stores a keyed blob, replacing any previous value for key.
	PutBlob(ctx context.Context, key string, data []byte) error

	// GetBlob returns the blob stored under key, or ErrNotFound.
	GetBlob(ctx context.Context, key string) ([]byte, error)

	// DeleteBlob removes the blob stored under key, if any.
	DeleteBlob(ctx context.Context, key string) error

	// ReplaceProjects atomically swaps the cached project snapshot. The
	// previous snapshot is gone once this returns, even if projects is
	// empty.
	ReplaceProjects(ctx context.Context, projects []*schema.Project) error

	// CachedProjects returns the current project snapshot ordered by id.
	CachedProjects(ctx context.Context) ([]*schema.Project, error)

	// ReplaceTasks atomically swaps the cached task snapshot.
	ReplaceTasks(ctx context.Context, tasks []*schema.Task) error

	// CachedTasks returns the current task snapshot ordered by id.
	CachedTasks(ctx context.Context) ([]*schema.Task, error)

	// Close releases the store. Operations after Close fail with
	// ErrUnavailable.
	Close() error
}
