// Package revision implements the multi-batch revision run state
// machine. A run groups entities into batches, dispatches one batch at
// a time to the executor through the task queue, surfaces each batch
// for human review, and finally yields the accepted patches. The run
// record is persisted in the run store; the poll-sync bridge keeps the
// orchestrator's view consistent with executor writes arriving from a
// separate execution context.
package revision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/event"
	"github.com/chris-arsenault/the-canonry-sub014/internal/grouping"
)

// DefaultPollInterval is how often the run record is re-read while a
// batch is generating
const DefaultPollInterval = 1500 * time.Millisecond

// Sentinel errors returned by orchestrator operations.
var (
	ErrNoActiveRun      = errors.New("no active revision run")
	ErrRunActive        = errors.New("a revision run is already active")
	ErrNotReviewing     = errors.New("run is not in a reviewing state")
	ErrNoEntities       = errors.New("no entities to revise")
	ErrWrongRunStatus   = errors.New("operation not valid in current run status")
	ErrRunAlreadyFailed = errors.New("run has failed; no further batches will be dispatched")
)

// StartConfig describes a new revision run
type StartConfig struct {
	ProjectID       string
	SimulationRunID string
	Entities        []*domain.Entity
	BatchSize       int
	// Context is the free-form world/domain fact bag handed to the
	// executor once at start, not re-sent per batch.
	Context json.RawMessage
}

// Orchestrator drives one revision run at a time through the state
// machine. Construct one per workflow instantiation; the underlying
// queue and store are shared.
type Orchestrator struct {
	mu    sync.Mutex
	store RunStore
	queue TaskEnqueuer
	wf    Workflow
	bus   *event.Bus

	pollInterval time.Duration
	baseCtx      context.Context

	runID      string
	pollCancel context.CancelFunc
}

// Options configures an Orchestrator
type Options struct {
	PollInterval time.Duration
	Bus          *event.Bus
}

// New creates an Orchestrator for the given workflow
func New(ctx context.Context, store RunStore, q TaskEnqueuer, wf Workflow, opts Options) *Orchestrator {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Orchestrator{
		store:        store,
		queue:        q,
		wf:           wf,
		bus:          opts.Bus,
		pollInterval: interval,
		baseCtx:      ctx,
	}
}

// RunID returns the active run id, or the empty string
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// Run returns the current persisted run record
func (o *Orchestrator) Run(ctx context.Context) (*domain.RevisionRun, error) {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	if runID == "" {
		return nil, ErrNoActiveRun
	}
	return o.store.GetRun(ctx, runID)
}

// StartRun groups the entities into batches, persists a new run record,
// and dispatches the first batch
func (o *Orchestrator) StartRun(ctx context.Context, cfg StartConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runID != "" {
		return fmt.Errorf("%w: %s", ErrRunActive, o.runID)
	}
	if len(cfg.Entities) == 0 {
		return ErrNoEntities
	}

	batches := grouping.GroupIntoBatches(cfg.Entities, cfg.BatchSize)

	run := &domain.RevisionRun{
		RunID:           uuid.NewString(),
		ProjectID:       cfg.ProjectID,
		SimulationRunID: cfg.SimulationRunID,
		Kind:            o.wf.Kind(),
		Status:          domain.RunGenerating,
		Batches:         batches,
		PatchDecisions:  make(map[string]bool),
		Context:         cfg.Context,
	}

	if err := o.dispatchBatchLocked(ctx, run); err != nil {
		return err
	}

	o.runID = run.RunID
	o.publish(event.NewRunStatusEvent(run.RunID, run.Kind, run.Status))
	o.startPollingLocked()
	return nil
}

// Attach resumes orchestration of a persisted run, restarting the poll
// loop if a batch is still generating. Used after a process restart.
func (o *Orchestrator) Attach(ctx context.Context, runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runID != "" {
		return fmt.Errorf("%w: %s", ErrRunActive, o.runID)
	}

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Kind != o.wf.Kind() {
		return fmt.Errorf("run %s belongs to workflow %s, not %s", runID, run.Kind, o.wf.Kind())
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: run %s is %s", ErrWrongRunStatus, runID, run.Status)
	}

	o.runID = runID
	if run.Status == domain.RunGenerating {
		o.startPollingLocked()
	}
	return nil
}

// dispatchBatchLocked assembles the current batch's payload just in
// time, marks it generating, persists the record, and enqueues the
// sentinel task. Caller must hold o.mu.
func (o *Orchestrator) dispatchBatchLocked(ctx context.Context, run *domain.RevisionRun) error {
	batch, err := run.CurrentBatch()
	if err != nil {
		return err
	}

	payload, err := o.wf.BuildPayload(ctx, run, batch)
	if err != nil {
		return fmt.Errorf("build batch payload: %w", err)
	}

	batch.Status = domain.BatchGenerating
	run.Status = domain.RunGenerating
	if err := o.store.PutRun(ctx, run); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}

	task := &domain.Task{
		EntityID: fmt.Sprintf("%s:%s:batch-%d", domain.SystemEntityPrefix, run.RunID, run.CurrentBatchIndex),
		Kind:     run.Kind,
		Payload:  payload,
		RunID:    run.RunID,
	}
	o.queue.Enqueue(task)
	return nil
}

// ContinueToNextBatch advances a reviewing run to its next batch, or to
// run_reviewing when no batch remains
func (o *Orchestrator) ContinueToNextBatch(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.continueLocked(ctx)
}

func (o *Orchestrator) continueLocked(ctx context.Context) error {
	run, err := o.activeRunLocked(ctx)
	if err != nil {
		return err
	}
	if run.Status == domain.RunFailed {
		return fmt.Errorf("%w: %s", ErrRunAlreadyFailed, run.Error)
	}
	if run.Status != domain.RunBatchReviewing {
		return fmt.Errorf("%w: %s", ErrWrongRunStatus, run.Status)
	}

	if run.CurrentBatchIndex+1 >= len(run.Batches) {
		run.Status = domain.RunReviewing
		if err := o.store.PutRun(ctx, run); err != nil {
			return fmt.Errorf("persist run: %w", err)
		}
		o.publish(event.NewRunStatusEvent(run.RunID, run.Kind, run.Status))
		return nil
	}

	run.CurrentBatchIndex++
	if err := o.dispatchBatchLocked(ctx, run); err != nil {
		return err
	}
	o.publish(event.NewRunStatusEvent(run.RunID, run.Kind, run.Status))
	o.startPollingLocked()
	return nil
}

// AutoContinueAll sets the persisted auto-advance flag. Every later
// batch_reviewing arrival advances without a manual call until batches
// are exhausted or a batch fails.
func (o *Orchestrator) AutoContinueAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.activeRunLocked(ctx)
	if err != nil {
		return err
	}
	if run.Status == domain.RunFailed {
		return fmt.Errorf("%w: %s", ErrRunAlreadyFailed, run.Error)
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrWrongRunStatus, run.Status)
	}

	run.AutoContinue = true
	if err := o.store.PutRun(ctx, run); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}

	if run.Status == domain.RunBatchReviewing {
		return o.continueLocked(ctx)
	}
	return nil
}

// TogglePatchDecision records a human accept/reject decision for one
// entity. Absent decisions default to accepted.
func (o *Orchestrator) TogglePatchDecision(ctx context.Context, entityID string, accepted bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.activeRunLocked(ctx)
	if err != nil {
		return err
	}
	if run.Status != domain.RunBatchReviewing && run.Status != domain.RunReviewing {
		return fmt.Errorf("%w: %s", ErrNotReviewing, run.Status)
	}

	if run.PatchDecisions == nil {
		run.PatchDecisions = make(map[string]bool)
	}
	run.PatchDecisions[entityID] = accepted
	if err := o.store.PutRun(ctx, run); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	return nil
}

// ApplyAccepted collects every patch whose entity was not explicitly
// rejected, hands them to the workflow's applier, deletes the run
// record, and returns the applied list. This is the only transition
// that produces a caller-visible result.
func (o *Orchestrator) ApplyAccepted(ctx context.Context) ([]domain.Patch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.activeRunLocked(ctx)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunReviewing && run.Status != domain.RunBatchReviewing {
		return nil, fmt.Errorf("%w: %s", ErrNotReviewing, run.Status)
	}

	accepted := run.AcceptedPatches()
	rejected := 0
	for i := range run.Batches {
		for _, p := range run.Batches[i].Patches {
			if !run.Accepted(p.EntityID) {
				rejected++
			}
		}
	}

	if err := o.wf.Apply(ctx, accepted); err != nil {
		return nil, fmt.Errorf("apply accepted patches: %w", err)
	}

	o.stopPollingLocked()
	if err := o.store.DeleteRun(ctx, run.RunID); err != nil {
		return nil, fmt.Errorf("delete run record: %w", err)
	}
	o.runID = ""

	o.publish(event.NewRunStatusEvent(run.RunID, run.Kind, domain.RunComplete))
	o.publish(event.NewRunFinalizedEvent(run.RunID, run.Kind, len(accepted), rejected))
	return accepted, nil
}

// CancelRun stops polling, deletes the persisted run record, and
// discards all patches. Safe to call repeatedly; cancelling a finished
// or missing run is a no-op.
func (o *Orchestrator) CancelRun(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runID == "" {
		return nil
	}
	runID := o.runID

	o.stopPollingLocked()
	o.runID = ""

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		// Already deleted: idempotent.
		return nil
	}
	if err := o.store.DeleteRun(ctx, runID); err != nil {
		return fmt.Errorf("delete run record: %w", err)
	}
	o.publish(event.NewRunStatusEvent(runID, run.Kind, domain.RunCancelled))
	return nil
}

// activeRunLocked loads the active run record. Caller must hold o.mu.
func (o *Orchestrator) activeRunLocked(ctx context.Context) (*domain.RevisionRun, error) {
	if o.runID == "" {
		return nil, ErrNoActiveRun
	}
	return o.store.GetRun(ctx, o.runID)
}

func (o *Orchestrator) publish(e event.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}
