package revision

import (
	"context"
	"errors"
	"time"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/event"
	"github.com/chris-arsenault/the-canonry-sub014/internal/runstore"
)

// The poll-sync bridge. The executor writes batch results into the run
// record from a separate execution context with no callback path into
// the orchestrator, so while a batch is generating the record is
// re-read on a fixed interval. The loop stops as soon as a status that
// is terminal for the current dispatch is observed and restarts on the
// next batch dispatch.

// startPollingLocked begins a poll loop for the active run. Caller must
// hold o.mu. Any previous loop is stopped first.
func (o *Orchestrator) startPollingLocked() {
	o.stopPollingLocked()

	ctx, cancel := context.WithCancel(o.baseCtx)
	o.pollCancel = cancel

	go o.pollLoop(ctx)
}

// stopPollingLocked cancels the active poll loop, if any. Caller must
// hold o.mu.
func (o *Orchestrator) stopPollingLocked() {
	if o.pollCancel != nil {
		o.pollCancel()
		o.pollCancel = nil
	}
}

func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := o.syncOnce(ctx); done {
				return
			}
		}
	}
}

// syncOnce reconciles the in-memory view with the persisted record.
// Returns true when the loop should stop.
func (o *Orchestrator) syncOnce(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctx.Err() != nil {
		return true
	}
	if o.runID == "" {
		return true
	}

	run, err := o.store.GetRun(ctx, o.runID)
	if errors.Is(err, runstore.ErrRunNotFound) {
		// Cancellation won the race with this tick; nothing to do.
		o.stopPollingLocked()
		o.runID = ""
		return true
	}
	if errors.Is(err, runstore.ErrCorruptRecord) {
		// Unrecoverable: fail the run and remove the record rather
		// than retrying forever.
		runID := o.runID
		o.stopPollingLocked()
		o.runID = ""
		_ = o.store.DeleteRun(ctx, runID)
		o.publish(event.NewRunFailedEvent(runID, o.wf.Kind(), "corrupt run record"))
		o.publish(event.NewRunStatusEvent(runID, o.wf.Kind(), domain.RunFailed))
		return true
	}
	if err != nil {
		// Transient store error; keep polling.
		return false
	}

	switch run.Status {
	case domain.RunGenerating:
		return o.syncGeneratingLocked(ctx, run)
	case domain.RunBatchReviewing, domain.RunReviewing, domain.RunComplete, domain.RunFailed, domain.RunCancelled:
		// Terminal for this dispatch; a new dispatch restarts the loop.
		o.stopPollingLocked()
		return true
	default:
		return false
	}
}

// syncGeneratingLocked inspects the current batch for executor writes
func (o *Orchestrator) syncGeneratingLocked(ctx context.Context, run *domain.RevisionRun) bool {
	batch, err := run.CurrentBatch()
	if err != nil {
		return false
	}

	switch batch.Status {
	case domain.BatchComplete:
		run.Status = domain.RunBatchReviewing
		if err := o.store.PutRun(ctx, run); err != nil {
			return false
		}
		o.publish(event.NewRunStatusEvent(run.RunID, run.Kind, run.Status))
		o.publish(event.NewBatchReadyEvent(run.RunID, run.CurrentBatchIndex, batch.Culture, len(batch.Patches)))

		if run.AutoContinue {
			// Advance without waiting for a manual call. continueLocked
			// restarts the loop when another batch is dispatched.
			if err := o.continueLocked(ctx); err == nil {
				return true
			}
		}
		o.stopPollingLocked()
		return true

	case domain.BatchFailed:
		run.Status = domain.RunFailed
		run.Error = batch.Error
		if err := o.store.PutRun(ctx, run); err != nil {
			return false
		}
		o.stopPollingLocked()
		o.publish(event.NewRunFailedEvent(run.RunID, run.Kind, batch.Error))
		o.publish(event.NewRunStatusEvent(run.RunID, run.Kind, run.Status))
		return true

	default:
		// Still generating.
		return false
	}
}
