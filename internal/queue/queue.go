// Package queue implements the enrichment task queue. It owns the list
// of outstanding tasks, enforces per-entity single-flight and a global
// concurrency cap, dispatches to the executor, and reports results via
// a caller-supplied callback plus derived stats.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/event"
	"github.com/chris-arsenault/the-canonry-sub014/internal/executor"
)

// DefaultConcurrencyCap bounds how many tasks run in flight at once
const DefaultConcurrencyCap = 4

// Sentinel errors returned by queue operations.
var (
	ErrTaskRejected = errors.New("task rejected: entity already has a task in flight")
	ErrTaskNotFound = errors.New("task not found")
	ErrNotRetryable = errors.New("only errored tasks can be retried")
)

// ResultCallback is invoked after a task reaches succeeded or errored,
// before the freed slot is redispatched. Cancelled tasks never reach it.
type ResultCallback func(task *domain.Task, result *domain.TaskResult)

// TaskQueue dispatches enrichment tasks to an executor with bounded
// concurrency. All methods are safe for concurrent use; the dispatch
// loop itself only ever runs in response to a mutation or a completion.
type TaskQueue struct {
	mu       sync.Mutex
	tasks    []*domain.Task
	byID     map[string]*domain.Task
	inFlight map[string]string // entityID -> taskID for queued/running tasks
	cancels  map[string]context.CancelFunc
	maxJobs  int

	exec     executor.Executor
	onResult ResultCallback
	bus      *event.Bus

	baseCtx context.Context
}

// Options configures a TaskQueue
type Options struct {
	ConcurrencyCap int
	OnResult       ResultCallback
	Bus            *event.Bus
}

// New creates a TaskQueue dispatching to exec. A nil bus disables event
// publication.
func New(ctx context.Context, exec executor.Executor, opts Options) *TaskQueue {
	maxJobs := opts.ConcurrencyCap
	if maxJobs <= 0 {
		maxJobs = DefaultConcurrencyCap
	}
	return &TaskQueue{
		byID:     make(map[string]*domain.Task),
		inFlight: make(map[string]string),
		cancels:  make(map[string]context.CancelFunc),
		maxJobs:  maxJobs,
		exec:     exec,
		onResult: opts.OnResult,
		bus:      opts.Bus,
		baseCtx:  ctx,
	}
}

// Enqueue appends tasks and kicks the dispatch loop. A task whose
// entity already has a queued or running task is rejected and returned;
// sentinel entity ids are exempt from that check. Tasks without an id
// are assigned one.
func (q *TaskQueue) Enqueue(tasks ...*domain.Task) []*domain.Task {
	q.mu.Lock()

	var rejected []*domain.Task
	for _, t := range tasks {
		if !t.IsSentinel() {
			if _, busy := q.inFlight[t.EntityID]; busy {
				rejected = append(rejected, t)
				continue
			}
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.Status = domain.TaskQueued
		t.EnqueuedAt = time.Now()
		q.tasks = append(q.tasks, t)
		q.byID[t.ID] = t
		if !t.IsSentinel() {
			q.inFlight[t.EntityID] = t.ID
		}
	}

	q.dispatchLocked()
	stats := q.statsLocked()
	q.mu.Unlock()

	q.publishStats(stats)
	return rejected
}

// dispatchLocked starts queued tasks until the concurrency cap is
// reached. Caller must hold q.mu.
func (q *TaskQueue) dispatchLocked() {
	running := 0
	for _, t := range q.tasks {
		if t.Status == domain.TaskRunning {
			running++
		}
	}

	for _, t := range q.tasks {
		if running >= q.maxJobs {
			return
		}
		if t.Status != domain.TaskQueued {
			continue
		}
		now := time.Now()
		t.Status = domain.TaskRunning
		t.StartedAt = &now
		running++

		ctx, cancel := context.WithCancel(q.baseCtx)
		q.cancels[t.ID] = cancel

		go q.run(ctx, t)
	}
}

// run executes one task and records its outcome. Runs on its own
// goroutine; never holds q.mu across the executor call.
func (q *TaskQueue) run(ctx context.Context, t *domain.Task) {
	result, err := q.exec.Execute(ctx, t)

	q.mu.Lock()
	live, ok := q.byID[t.ID]
	if !ok || live.Status != domain.TaskRunning {
		// Cancelled while in flight: discard the late result and drop
		// the task from the visible list.
		q.removeLocked(t.ID)
		stats := q.statsLocked()
		q.mu.Unlock()
		q.publishStats(stats)
		return
	}

	now := time.Now()
	live.FinishedAt = &now
	delete(q.cancels, t.ID)
	delete(q.inFlight, live.EntityID)

	if err != nil {
		live.Status = domain.TaskErrored
		live.Error = err.Error()
		result = &domain.TaskResult{TaskID: t.ID, Err: err}
	} else {
		live.Status = domain.TaskSucceeded
		if result == nil {
			result = &domain.TaskResult{TaskID: t.ID}
		}
	}
	status := live.Status
	errMsg := live.Error
	snapshot := *live
	q.mu.Unlock()

	if q.onResult != nil {
		q.onResult(&snapshot, result)
	}
	if q.bus != nil {
		q.bus.Publish(event.NewTaskFinishedEvent(t.ID, t.EntityID, status, errMsg))
	}

	q.mu.Lock()
	q.dispatchLocked()
	stats := q.statsLocked()
	q.mu.Unlock()
	q.publishStats(stats)
}

// Cancel removes a queued task immediately, or marks a running task for
// cancellation. The executor call is not interrupted forcibly; its
// eventual result is discarded.
func (q *TaskQueue) Cancel(taskID string) error {
	q.mu.Lock()

	t, ok := q.byID[taskID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	switch t.Status {
	case domain.TaskQueued:
		q.removeLocked(taskID)
	case domain.TaskRunning:
		t.Status = domain.TaskCancelled
		delete(q.inFlight, t.EntityID)
		if cancel, ok := q.cancels[taskID]; ok {
			cancel()
			delete(q.cancels, taskID)
		}
	default:
		// Terminal already; nothing to do.
	}

	q.dispatchLocked()
	stats := q.statsLocked()
	q.mu.Unlock()

	q.publishStats(stats)
	return nil
}

// CancelAll cancels every non-terminal task
func (q *TaskQueue) CancelAll() {
	q.mu.Lock()
	ids := make([]string, 0, len(q.tasks))
	for _, t := range q.tasks {
		if !t.Status.IsTerminal() {
			ids = append(ids, t.ID)
		}
	}
	q.mu.Unlock()

	for _, id := range ids {
		_ = q.Cancel(id)
	}
}

// Retry re-enqueues a copy of an errored task under a fresh id, subject
// to the same single-flight check as a new enqueue.
func (q *TaskQueue) Retry(taskID string) error {
	q.mu.Lock()
	t, ok := q.byID[taskID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.Status != domain.TaskErrored {
		q.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", ErrNotRetryable, taskID, t.Status)
	}
	copyTask := &domain.Task{
		EntityID: t.EntityID,
		Entity:   t.Entity,
		Kind:     t.Kind,
		Payload:  t.Payload,
		RunID:    t.RunID,
	}
	q.mu.Unlock()

	if rejected := q.Enqueue(copyTask); len(rejected) > 0 {
		return fmt.Errorf("%w: entity %s", ErrTaskRejected, t.EntityID)
	}
	return nil
}

// ClearCompleted drops all succeeded and errored tasks from the visible
// list. Stats are always derived from current contents, so they shrink
// accordingly.
func (q *TaskQueue) ClearCompleted() {
	q.mu.Lock()
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if t.Status == domain.TaskSucceeded || t.Status == domain.TaskErrored {
			delete(q.byID, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
	stats := q.statsLocked()
	q.mu.Unlock()

	q.publishStats(stats)
}

// SetConcurrencyCap changes the cap. Takes effect on the next dispatch
// pass; already-running tasks are unaffected.
func (q *TaskQueue) SetConcurrencyCap(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	q.maxJobs = n
	q.dispatchLocked()
	q.mu.Unlock()
}

// Stats returns a derived snapshot of current queue contents
func (q *TaskQueue) Stats() domain.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

// Tasks returns a copy of the visible task list in enqueue order
func (q *TaskQueue) Tasks() []*domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*domain.Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// Get returns a copy of the task with the given id, or nil
func (q *TaskQueue) Get(taskID string) *domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byID[taskID]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (q *TaskQueue) statsLocked() domain.QueueStats {
	var s domain.QueueStats
	for _, t := range q.tasks {
		switch t.Status {
		case domain.TaskQueued:
			s.Queued++
		case domain.TaskRunning:
			s.Running++
		case domain.TaskSucceeded:
			s.Succeeded++
		case domain.TaskErrored:
			s.Errored++
		}
	}
	return s
}

// removeLocked drops a task from the list and all indexes. Caller must
// hold q.mu.
func (q *TaskQueue) removeLocked(taskID string) {
	t, ok := q.byID[taskID]
	if !ok {
		return
	}
	delete(q.byID, taskID)
	if q.inFlight[t.EntityID] == taskID {
		delete(q.inFlight, t.EntityID)
	}
	if cancel, ok := q.cancels[taskID]; ok {
		cancel()
		delete(q.cancels, taskID)
	}
	for i, existing := range q.tasks {
		if existing.ID == taskID {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
}

func (q *TaskQueue) publishStats(stats domain.QueueStats) {
	if q.bus != nil {
		q.bus.Publish(event.NewQueueChangedEvent(stats))
	}
}
