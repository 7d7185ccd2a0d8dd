// Package runstore provides SQLite-backed persistence for revision run
// records and the append-only task archive. Access is id-keyed get/put;
// single-key writes are atomic, no multi-key transactions are needed by
// the orchestration core.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

// Sentinel errors returned by store operations.
var (
	// ErrRunNotFound is returned when a run id has no record. Pollers
	// treat this as a no-op: it means cancellation won the race.
	ErrRunNotFound = errors.New("revision run not found")

	// ErrCorruptRecord is returned when a persisted record cannot be
	// decoded. The owning run should be failed and deleted, not retried.
	ErrCorruptRecord = errors.New("corrupt revision run record")
)

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New creates a Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// PutRun inserts or replaces a run record, keyed by run id
func (s *Store) PutRun(ctx context.Context, run *domain.RevisionRun) error {
	run.UpdatedAt = time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = run.UpdatedAt
	}

	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO revision_runs (run_id, project_id, kind, status, record, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			record = excluded.record,
			updated_at = excluded.updated_at
	`,
		run.RunID,
		run.ProjectID,
		string(run.Kind),
		string(run.Status),
		string(record),
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

// GetRun retrieves a run record by id
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.RevisionRun, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM revision_runs WHERE run_id = ?`, runID,
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var run domain.RevisionRun
	if err := json.Unmarshal([]byte(record), &run); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, runID, err)
	}
	return &run, nil
}

// DeleteRun removes a run record. Deleting a missing run is not an error.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM revision_runs WHERE run_id = ?`, runID)
	return err
}

// ListRuns returns all persisted runs, newest first
func (s *Store) ListRuns(ctx context.Context) ([]*domain.RevisionRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM revision_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RevisionRun
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var run domain.RevisionRun
		if err := json.Unmarshal([]byte(record), &run); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// ArchiveTask appends a terminal task to the task archive
func (s *Store) ArchiveTask(ctx context.Context, task *domain.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_archive (task_id, entity_id, kind, run_id, status, error_message, enqueued_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		task.EntityID,
		string(task.Kind),
		task.RunID,
		string(task.Status),
		task.Error,
		task.EnqueuedAt,
		task.FinishedAt,
	)
	return err
}

// ArchivedTask is one row of the append-only task archive
type ArchivedTask struct {
	TaskID     string
	EntityID   string
	Kind       domain.WorkflowKind
	RunID      string
	Status     domain.TaskStatus
	Error      string
	EnqueuedAt time.Time
	FinishedAt *time.Time
}

// ListArchivedTasks returns up to limit archived tasks, newest first
func (s *Store) ListArchivedTasks(ctx context.Context, limit int) ([]*ArchivedTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, entity_id, kind, run_id, status, error_message, enqueued_at, finished_at
		FROM task_archive ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*ArchivedTask
	for rows.Next() {
		var t ArchivedTask
		var kind, status string
		var runID, errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&t.TaskID, &t.EntityID, &kind, &runID, &status, &errMsg, &t.EnqueuedAt, &finished); err != nil {
			return nil, err
		}
		t.Kind = domain.WorkflowKind(kind)
		t.Status = domain.TaskStatus(status)
		if runID.Valid {
			t.RunID = runID.String
		}
		if errMsg.Valid {
			t.Error = errMsg.String
		}
		if finished.Valid {
			ft := finished.Time
			t.FinishedAt = &ft
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
