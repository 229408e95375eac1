// Package sqlite implements the offline store on an embedded SQLite
// database.
//
// The database runs through the WASM-compiled SQLite driver, so builds need
// no cgo and no system libsqlite3. WAL mode keeps readers concurrent with
// the reconciler's writes, which matters when the daemon drains the queue
// while the CLI is enqueueing.
//
// Layout:
//   - pending_entries: the durable write queue, ordered by enqueue time
//   - offline_data: keyed blobs (auth token, device id, sync bookkeeping)
//   - cached_projects, cached_tasks: replace-all reference snapshots
//
// Schema changes are applied as embedded, versioned, additive-only
// migrations at open time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/timetracker-dev/tt/internal/outbox"
	"github.com/timetracker-dev/tt/internal/schema"
	"github.com/timetracker-dev/tt/internal/storage"
)

// DefaultDriver is the WASM-backed SQLite driver compiled into every build.
// A cgo build may select the libsql driver instead via OpenDriver.
const DefaultDriver = "sqlite3"

var runtimeOnce sync.Once

// configureRuntime points the embedded SQLite WASM runtime at a persistent
// compilation cache so repeated opens skip recompiling the module.
func configureRuntime() {
	runtimeOnce.Do(func() {
		dir, err := os.UserCacheDir()
		if err != nil {
			return
		}
		cache, err := wazero.NewCompilationCacheWithDir(filepath.Join(dir, "tt", "wazero"))
		if err != nil {
			return
		}
		sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	})
}

// Store is the SQLite-backed offline store.
type Store struct {
	conn *sql.DB
	path string
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if necessary) the offline store at path using the
// default embedded driver. The caller must Close the store when done.
func Open(path string) (*Store, error) {
	return OpenDriver(DefaultDriver, path)
}

// OpenDriver opens the offline store with an explicit database/sql driver
// name. Besides the default, builds with cgo enabled register "libsql".
func OpenDriver(driver, path string) (*Store, error) {
	configureRuntime()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create database directory: %v", storage.ErrUnavailable, err)
	}

	conn, err := sql.Open(driver, "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", storage.ErrUnavailable, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ping database: %v", storage.ErrUnavailable, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL keeps readers concurrent with queue writes; the busy timeout
	// covers the window where the daemon and CLI share the file.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// db returns the live connection, or ErrUnavailable once the store is
// closed.
func (s *Store) db() (*sql.DB, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("database closed: %w", storage.ErrUnavailable)
	}
	return s.conn, nil
}

// Close checkpoints the WAL and closes the database connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// EnqueueEntry appends a mutation to the pending write queue.
func (s *Store) EnqueueEntry(ctx context.Context, e *outbox.Entry) error {
	conn, err := s.db()
	if err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO pending_entries (id, payload, auth_token, target_url, method, timestamp, retry_count, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		string(e.Payload),
		stringToNull(e.AuthToken),
		e.TargetURL,
		e.Method,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.RetryCount,
		timeToNullString(e.LastAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue entry %s: %w", e.ID, err)
	}
	return nil
}

// PendingEntries returns every queued mutation ordered oldest first.
//
// The timestamp column has second precision; ties fall back to the id,
// whose millisecond prefix preserves enqueue order.
func (s *Store) PendingEntries(ctx context.Context) ([]*outbox.Entry, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, payload, auth_token, target_url, method, timestamp, retry_count, last_attempt_at
		FROM pending_entries
		ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// UpdateEntry persists the retry bookkeeping of a queued mutation.
func (s *Store) UpdateEntry(ctx context.Context, e *outbox.Entry) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx, `
		UPDATE pending_entries SET retry_count = ?, last_attempt_at = ? WHERE id = ?`,
		e.RetryCount, timeToNullString(e.LastAttemptAt), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update entry %s: %w", e.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update entry %s: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("entry %s: %w", e.ID, storage.ErrNotFound)
	}
	return nil
}

// RemoveEntry deletes a queued mutation by id.
func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM pending_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", id, err)
	}
	return nil
}

// PendingCount returns the number of queued mutations.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}

	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return count, nil
}

// PutBlob stores a keyed blob, replacing any previous value for key.
func (s *Store) PutBlob(ctx context.Context, key string, data []byte) error {
	conn, err := s.db()
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("blob key is required")
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO offline_data (key, data, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp`,
		key, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store blob %s: %w", key, err)
	}
	return nil
}

// GetBlob returns the blob stored under key.
func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	var data []byte
	err = conn.QueryRowContext(ctx, `SELECT data FROM offline_data WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("blob %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// DeleteBlob removes the blob stored under key, if any.
func (s *Store) DeleteBlob(ctx context.Context, key string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM offline_data WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// ReplaceProjects atomically swaps the cached project snapshot.
func (s *Store) ReplaceProjects(ctx context.Context, projects []*schema.Project) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_projects`); err != nil {
		return fmt.Errorf("failed to clear project cache: %w", err)
	}

	for _, p := range projects {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid project: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cached_projects (id, name, description, color, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, stringToNull(p.Description), stringToNull(p.Color),
			p.IsActive, zeroTimeToNull(p.CreatedAt)); err != nil {
			return fmt.Errorf("failed to cache project %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project cache: %w", err)
	}
	return nil
}

// CachedProjects returns the current project snapshot ordered by id.
func (s *Store) CachedProjects(ctx context.Context) ([]*schema.Project, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, name, description, color, is_active, created_at
		FROM cached_projects
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached projects: %w", err)
	}
	defer rows.Close()

	var projects []*schema.Project
	for rows.Next() {
		var (
			p           schema.Project
			description sql.NullString
			color       sql.NullString
			createdAt   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &description, &color, &p.IsActive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached project: %w", err)
		}
		p.Description = description.String
		p.Color = color.String
		if t := nullStringToTime(createdAt); t != nil {
			p.CreatedAt = *t
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cached projects: %w", err)
	}
	return projects, nil
}

// ReplaceTasks atomically swaps the cached task snapshot.
func (s *Store) ReplaceTasks(ctx context.Context, tasks []*schema.Task) error {
	conn, err := s.db()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_tasks`); err != nil {
		return fmt.Errorf("failed to clear task cache: %w", err)
	}

	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("invalid task: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cached_tasks (id, project_id, title, description, status, priority, position, due_at, completed_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.ProjectID, task.Title, stringToNull(task.Description),
			task.Status, task.Priority, task.Position,
			timeToNullString(task.DueAt), timeToNullString(task.CompletedAt),
			zeroTimeToNull(task.CreatedAt), zeroTimeToNull(task.UpdatedAt)); err != nil {
			return fmt.Errorf("failed to cache task %d: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task cache: %w", err)
	}
	return nil
}

// CachedTasks returns the current task snapshot ordered by id.
func (s *Store) CachedTasks(ctx context.Context) ([]*schema.Task, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, project_id, title, description, status, priority, position, due_at, completed_at, created_at, updated_at
		FROM cached_tasks
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		var (
			task        schema.Task
			description sql.NullString
			dueAt       sql.NullString
			completedAt sql.NullString
			createdAt   sql.NullString
			updatedAt   sql.NullString
		)
		if err := rows.Scan(&task.ID, &task.ProjectID, &task.Title, &description,
			&task.Status, &task.Priority, &task.Position,
			&dueAt, &completedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached task: %w", err)
		}
		task.Description = description.String
		task.DueAt = nullStringToTime(dueAt)
		task.CompletedAt = nullStringToTime(completedAt)
		if t := nullStringToTime(createdAt); t != nil {
			task.CreatedAt = *t
		}
		if t := nullStringToTime(updatedAt); t != nil {
			task.UpdatedAt = *t
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cached tasks: %w", err)
	}
	return tasks, nil
}

// scanEntries is a helper function to scan queue rows from query results.
func scanEntries(rows *sql.Rows) ([]*outbox.Entry, error) {
	var entries []*outbox.Entry
	for rows.Next() {
		var (
			e           outbox.Entry
			payload     string
			authToken   sql.NullString
			timestamp   string
			lastAttempt sql.NullString
		)
		if err := rows.Scan(&e.ID, &payload, &authToken, &e.TargetURL, &e.Method,
			&timestamp, &e.RetryCount, &lastAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.AuthToken = authToken.String
		if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
			e.Timestamp = t
		}
		e.LastAttemptAt = nullStringToTime(lastAttempt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// stringToNull converts an optional string to a nullable SQL value.
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// zeroTimeToNull converts a time value to a nullable string, treating the
// zero time as NULL.
func zeroTimeToNull(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
