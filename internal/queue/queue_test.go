package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/executor"
)

// blockingExec blocks each task until released, recording start order.
type blockingExec struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
	err     error
}

func newBlockingExec() *blockingExec {
	return &blockingExec{release: make(chan struct{})}
}

func (e *blockingExec) Execute(ctx context.Context, t *domain.Task) (*domain.TaskResult, error) {
	e.mu.Lock()
	e.started = append(e.started, t.EntityID)
	e.mu.Unlock()

	select {
	case <-e.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return &domain.TaskResult{TaskID: t.ID}, nil
}

func (e *blockingExec) startedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.started)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func task(entityID string) *domain.Task {
	return &domain.Task{EntityID: entityID, Kind: domain.KindRewrite}
}

func TestQueue_SingleFlightPerEntity(t *testing.T) {
	exec := newBlockingExec()
	defer close(exec.release)
	q := New(context.Background(), exec, Options{})

	if rejected := q.Enqueue(task("ent-1")); len(rejected) != 0 {
		t.Fatalf("first enqueue rejected %d tasks", len(rejected))
	}
	rejected := q.Enqueue(task("ent-1"), task("ent-2"))
	if len(rejected) != 1 {
		t.Fatalf("rejected = %d, want 1", len(rejected))
	}
	if rejected[0].EntityID != "ent-1" {
		t.Errorf("rejected entity = %s, want ent-1", rejected[0].EntityID)
	}
}

func TestQueue_SentinelTasksExemptFromSingleFlight(t *testing.T) {
	exec := newBlockingExec()
	defer close(exec.release)
	q := New(context.Background(), exec, Options{})

	a := &domain.Task{EntityID: domain.SystemEntityPrefix + ":r1:batch-0"}
	b := &domain.Task{EntityID: domain.SystemEntityPrefix + ":r1:batch-0"}
	if rejected := q.Enqueue(a, b); len(rejected) != 0 {
		t.Errorf("sentinel tasks rejected: %d", len(rejected))
	}
}

func TestQueue_ConcurrencyCap(t *testing.T) {
	exec := newBlockingExec()
	q := New(context.Background(), exec, Options{ConcurrencyCap: 2})

	for i := 0; i < 5; i++ {
		q.Enqueue(task(fmt.Sprintf("ent-%d", i)))
	}

	waitFor(t, "2 tasks running", func() bool { return exec.startedCount() == 2 })
	stats := q.Stats()
	if stats.Running != 2 || stats.Queued != 3 {
		t.Errorf("stats = %+v, want Running=2 Queued=3", stats)
	}

	close(exec.release)
	waitFor(t, "all tasks finished", func() bool { return q.Stats().Succeeded == 5 })
}

func TestQueue_RaisingCapDispatchesMore(t *testing.T) {
	exec := newBlockingExec()
	q := New(context.Background(), exec, Options{ConcurrencyCap: 1})

	q.Enqueue(task("ent-1"), task("ent-2"), task("ent-3"))
	waitFor(t, "1 task running", func() bool { return exec.startedCount() == 1 })

	q.SetConcurrencyCap(3)
	waitFor(t, "3 tasks running", func() bool { return exec.startedCount() == 3 })

	close(exec.release)
	waitFor(t, "all tasks finished", func() bool { return q.Stats().Succeeded == 3 })
}

func TestQueue_CancelQueuedRemovesImmediately(t *testing.T) {
	exec := newBlockingExec()
	defer close(exec.release)
	q := New(context.Background(), exec, Options{ConcurrencyCap: 1})

	q.Enqueue(task("ent-1"))
	queued := task("ent-2")
	q.Enqueue(queued)

	waitFor(t, "first task running", func() bool { return exec.startedCount() == 1 })
	if err := q.Cancel(queued.ID); err != nil {
		t.Fatal(err)
	}
	if got := q.Get(queued.ID); got != nil {
		t.Error("cancelled queued task still visible")
	}
	// Entity slot freed: a new task for ent-2 is accepted.
	if rejected := q.Enqueue(task("ent-2")); len(rejected) != 0 {
		t.Error("re-enqueue after cancel rejected")
	}
}

func TestQueue_CancelRunningDiscardsResult(t *testing.T) {
	exec := newBlockingExec()
	results := 0
	q := New(context.Background(), exec, Options{
		OnResult: func(task *domain.Task, result *domain.TaskResult) { results++ },
	})

	tk := task("ent-1")
	q.Enqueue(tk)
	waitFor(t, "task running", func() bool { return exec.startedCount() == 1 })

	if err := q.Cancel(tk.ID); err != nil {
		t.Fatal(err)
	}
	close(exec.release)
	waitFor(t, "task dropped", func() bool { return q.Get(tk.ID) == nil })

	if results != 0 {
		t.Errorf("onResult called %d times for cancelled task, want 0", results)
	}
}

func TestQueue_CancelUnknownTask(t *testing.T) {
	q := New(context.Background(), newBlockingExec(), Options{})
	if err := q.Cancel("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestQueue_ErroredTaskRecordsError(t *testing.T) {
	exec := newBlockingExec()
	exec.err = errors.New("model refused")

	var gotResult *domain.TaskResult
	q := New(context.Background(), exec, Options{
		OnResult: func(task *domain.Task, result *domain.TaskResult) { gotResult = result },
	})

	tk := task("ent-1")
	q.Enqueue(tk)
	close(exec.release)

	waitFor(t, "task errored", func() bool { return q.Stats().Errored == 1 })
	got := q.Get(tk.ID)
	if got.Status != domain.TaskErrored {
		t.Errorf("status = %s, want errored", got.Status)
	}
	if got.Error != "model refused" {
		t.Errorf("error = %q, want %q", got.Error, "model refused")
	}
	if gotResult == nil || gotResult.Err == nil {
		t.Error("onResult not given the failure")
	}
}

func TestQueue_RetryErroredTask(t *testing.T) {
	exec := newBlockingExec()
	exec.err = errors.New("transient")
	q := New(context.Background(), exec, Options{})

	tk := task("ent-1")
	q.Enqueue(tk)
	close(exec.release)
	waitFor(t, "task errored", func() bool { return q.Stats().Errored == 1 })

	exec.mu.Lock()
	exec.err = nil
	exec.release = make(chan struct{})
	close(exec.release)
	exec.mu.Unlock()

	if err := q.Retry(tk.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "retry succeeded", func() bool { return q.Stats().Succeeded == 1 })

	// Original errored entry is still visible alongside the retry.
	if stats := q.Stats(); stats.Errored != 1 {
		t.Errorf("Errored = %d, want 1", stats.Errored)
	}
}

func TestQueue_RetryRequiresErroredStatus(t *testing.T) {
	exec := newBlockingExec()
	defer close(exec.release)
	q := New(context.Background(), exec, Options{})

	tk := task("ent-1")
	q.Enqueue(tk)
	waitFor(t, "task running", func() bool { return exec.startedCount() == 1 })

	if err := q.Retry(tk.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("err = %v, want ErrNotRetryable", err)
	}
	if err := q.Retry("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestQueue_ClearCompleted(t *testing.T) {
	exec := newBlockingExec()
	q := New(context.Background(), exec, Options{})

	q.Enqueue(task("ent-1"), task("ent-2"))
	close(exec.release)
	waitFor(t, "tasks finished", func() bool { return q.Stats().Succeeded == 2 })

	q.ClearCompleted()
	stats := q.Stats()
	if stats.Total() != 0 {
		t.Errorf("Total = %d after clear, want 0", stats.Total())
	}
	if got := len(q.Tasks()); got != 0 {
		t.Errorf("visible tasks = %d, want 0", got)
	}
}

func TestQueue_AssignsIDs(t *testing.T) {
	exec := newBlockingExec()
	defer close(exec.release)
	q := New(context.Background(), exec, Options{})

	tk := task("ent-1")
	q.Enqueue(tk)
	if tk.ID == "" {
		t.Error("enqueue did not assign an id")
	}
}

var _ executor.Executor = (*blockingExec)(nil)
