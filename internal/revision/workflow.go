package revision

import (
	"context"
	"encoding/json"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

// Workflow parameterizes the run state machine. The state machine is
// workflow-agnostic; a workflow contributes only its kind tag, its
// per-batch payload assembly, and what happens to accepted patches.
type Workflow interface {
	// Kind tags tasks and run records issued by this workflow
	Kind() domain.WorkflowKind

	// BuildPayload assembles the executor payload for one batch. It is
	// called just before the batch is dispatched, never earlier, so the
	// entity context reflects upstream edits made mid-run.
	BuildPayload(ctx context.Context, run *domain.RevisionRun, batch *domain.Batch) (json.RawMessage, error)

	// Apply receives the accepted patches when the run is finalized
	Apply(ctx context.Context, patches []domain.Patch) error
}

// RunStore is the slice of the persistent store the orchestrator needs
type RunStore interface {
	PutRun(ctx context.Context, run *domain.RevisionRun) error
	GetRun(ctx context.Context, runID string) (*domain.RevisionRun, error)
	DeleteRun(ctx context.Context, runID string) error
}

// TaskEnqueuer is the slice of the task queue the orchestrator needs
type TaskEnqueuer interface {
	Enqueue(tasks ...*domain.Task) []*domain.Task
}
