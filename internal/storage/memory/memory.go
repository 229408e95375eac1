// Package memory implements the offline store in process memory.
//
// It backs tests and ephemeral environments where no filesystem is
// available. Semantics match the SQLite store: oldest-first queue order,
// last-write-wins blobs, and replace-all snapshots. SetAvailable(false)
// makes every operation fail with ErrUnavailable, which is how tests
// simulate a broken local store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/timetracker-dev/tt/internal/outbox"
	"github.com/timetracker-dev/tt/internal/schema"
	"github.com/timetracker-dev/tt/internal/storage"
)

// Store is the in-memory offline store.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*outbox.Entry
	blobs       map[string][]byte
	projects    []*schema.Project
	tasks       []*schema.Task
	unavailable bool
	closed      bool
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]*outbox.Entry),
		blobs:   make(map[string][]byte),
	}
}

// SetAvailable toggles the simulated availability of the store.
func (s *Store) SetAvailable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = !ok
}

func (s *Store) usable() error {
	if s.closed {
		return fmt.Errorf("store closed: %w", storage.ErrUnavailable)
	}
	if s.unavailable {
		return fmt.Errorf("store offline: %w", storage.ErrUnavailable)
	}
	return nil
}

// EnqueueEntry appends a mutation to the pending write queue.
func (s *Store) EnqueueEntry(ctx context.Context, e *outbox.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if _, exists := s.entries[e.ID]; exists {
		return fmt.Errorf("entry %s already queued", e.ID)
	}
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

// PendingEntries returns every queued mutation ordered oldest first.
func (s *Store) PendingEntries(ctx context.Context) ([]*outbox.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}

	entries := make([]*outbox.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		entries = append(entries, &cp)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// UpdateEntry persists the retry bookkeeping of a queued mutation.
func (s *Store) UpdateEntry(ctx context.Context, e *outbox.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}

	stored, ok := s.entries[e.ID]
	if !ok {
		return fmt.Errorf("entry %s: %w", e.ID, storage.ErrNotFound)
	}
	stored.RetryCount = e.RetryCount
	stored.LastAttemptAt = e.LastAttemptAt
	return nil
}

// RemoveEntry deletes a queued mutation by id.
func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	delete(s.entries, id)
	return nil
}

// PendingCount returns the number of queued mutations.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	return len(s.entries), nil
}

// PutBlob stores a keyed blob, replacing any previous value for key.
func (s *Store) PutBlob(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("blob key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	return nil
}

// GetBlob returns the blob stored under key.
func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}

	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, storage.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// DeleteBlob removes the blob stored under key, if any.
func (s *Store) DeleteBlob(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	delete(s.blobs, key)
	return nil
}

// ReplaceProjects atomically swaps the cached project snapshot.
func (s *Store) ReplaceProjects(ctx context.Context, projects []*schema.Project) error {
	next := make([]*schema.Project, 0, len(projects))
	for _, p := range projects {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid project: %w", err)
		}
		cp := *p
		next = append(next, &cp)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	s.projects = next
	return nil
}

// CachedProjects returns the current project snapshot ordered by id.
func (s *Store) CachedProjects(ctx context.Context) ([]*schema.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}

	out := make([]*schema.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// ReplaceTasks atomically swaps the cached task snapshot.
func (s *Store) ReplaceTasks(ctx context.Context, tasks []*schema.Task) error {
	next := make([]*schema.Task, 0, len(tasks))
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("invalid task: %w", err)
		}
		cp := *task
		next = append(next, &cp)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	s.tasks = next
	return nil
}

// CachedTasks returns the current task snapshot ordered by id.
func (s *Store) CachedTasks(ctx context.Context) ([]*schema.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}

	out := make([]*schema.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		cp := *task
		out = append(out, &cp)
	}
	return out, nil
}

// Close releases the store. Further operations fail with ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
