package revision

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/runstore"
)

// ApplyResult writes an executor result for a sentinel batch task into
// its run record. The executor runs in a separate execution context, so
// this is the only channel back to the orchestrator: the poll loop
// observes the written batch status. Called by the worker bridge for
// remote executors and by the queue result callback for embedded ones.
//
// A missing run record means the run was cancelled while the task was
// in flight; the result is discarded silently.
func ApplyResult(ctx context.Context, store RunStore, task *domain.Task, result *domain.TaskResult) error {
	if task.RunID == "" || !task.IsSentinel() {
		return nil
	}

	run, err := store.GetRun(ctx, task.RunID)
	if errors.Is(err, runstore.ErrRunNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if run.Status != domain.RunGenerating {
		return nil
	}

	batch, err := run.CurrentBatch()
	if err != nil {
		return err
	}
	if batch.Status != domain.BatchGenerating {
		return nil
	}

	if result == nil || result.Err != nil || len(result.Patches) == 0 {
		batch.Status = domain.BatchFailed
		switch {
		case result != nil && result.Err != nil:
			batch.Error = result.Err.Error()
		default:
			batch.Error = "executor produced no patches"
		}
	} else {
		batch.Status = domain.BatchComplete
		batch.Patches = result.Patches
		batch.Error = ""
	}

	if err := store.PutRun(ctx, run); err != nil {
		return fmt.Errorf("persist batch result: %w", err)
	}
	return nil
}
