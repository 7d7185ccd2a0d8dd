package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(runID string) *domain.RevisionRun {
	return &domain.RevisionRun{
		RunID:     runID,
		ProjectID: "proj-1",
		Kind:      domain.KindRewrite,
		Status:    domain.RunGenerating,
		Batches: []domain.Batch{
			{Culture: "thornfolk", EntityIDs: []string{"a", "b"}, Status: domain.BatchGenerating},
			{Culture: "emberclan", EntityIDs: []string{"c"}, Status: domain.BatchPending},
		},
		PatchDecisions: map[string]bool{"b": false},
	}
}

func TestStore_PutAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-1")
	if err := store.PutRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != domain.KindRewrite {
		t.Errorf("Kind = %s, want rewrite", got.Kind)
	}
	if len(got.Batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(got.Batches))
	}
	if got.Batches[0].Status != domain.BatchGenerating {
		t.Errorf("batch status = %s, want generating", got.Batches[0].Status)
	}
	if got.Accepted("b") {
		t.Error("rejected decision lost in roundtrip")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set on put")
	}
}

func TestStore_PutRunUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-1")
	if err := store.PutRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	created := run.CreatedAt

	run.Status = domain.RunBatchReviewing
	run.Batches[0].Status = domain.BatchComplete
	if err := store.PutRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunBatchReviewing {
		t.Errorf("status = %s, want batch_reviewing", got.Status)
	}
	if !got.CreatedAt.Equal(created) {
		t.Error("CreatedAt changed on update")
	}
}

func TestStore_GetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestStore_GetRunCorruptRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `
		INSERT INTO revision_runs (run_id, project_id, kind, status, record, created_at, updated_at)
		VALUES ('bad', 'p', 'rewrite', 'generating', '{not json', ?, ?)
	`, time.Now(), time.Now())
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.GetRun(ctx, "bad")
	if !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("err = %v, want ErrCorruptRecord", err)
	}
}

func TestStore_DeleteRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutRun(ctx, sampleRun("run-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetRun(ctx, "run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound after delete", err)
	}

	// Deleting again is not an error.
	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2"} {
		if err := store.PutRun(ctx, sampleRun(id)); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}

func TestStore_TaskArchive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	finished := time.Now()
	task := &domain.Task{
		ID:         "task-1",
		EntityID:   "ent-1",
		Kind:       domain.KindRewrite,
		RunID:      "run-1",
		Status:     domain.TaskSucceeded,
		EnqueuedAt: time.Now().Add(-time.Minute),
		FinishedAt: &finished,
	}
	if err := store.ArchiveTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	failed := &domain.Task{
		ID:         "task-2",
		EntityID:   "ent-2",
		Kind:       domain.KindRewrite,
		Status:     domain.TaskErrored,
		Error:      "model refused",
		EnqueuedAt: time.Now(),
	}
	if err := store.ArchiveTask(ctx, failed); err != nil {
		t.Fatal(err)
	}

	archived, err := store.ListArchivedTasks(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 2 {
		t.Fatalf("archived = %d, want 2", len(archived))
	}

	byID := make(map[string]*ArchivedTask)
	for _, a := range archived {
		byID[a.TaskID] = a
	}
	if byID["task-1"].Status != domain.TaskSucceeded {
		t.Errorf("task-1 status = %s, want succeeded", byID["task-1"].Status)
	}
	if byID["task-1"].FinishedAt == nil {
		t.Error("task-1 FinishedAt lost")
	}
	if byID["task-2"].Error != "model refused" {
		t.Errorf("task-2 error = %q", byID["task-2"].Error)
	}
}

func TestStore_ListArchivedTasksLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		task := &domain.Task{
			ID:         string(rune('a' + i)),
			EntityID:   "ent",
			Kind:       domain.KindRewrite,
			Status:     domain.TaskSucceeded,
			EnqueuedAt: time.Now(),
		}
		if err := store.ArchiveTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	archived, err := store.ListArchivedTasks(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 3 {
		t.Errorf("archived = %d, want 3", len(archived))
	}
}
