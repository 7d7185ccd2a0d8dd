package domain

// TaskStatus represents the lifecycle state of a queued task
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskErrored   TaskStatus = "errored"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true if the status is a final state
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskErrored || s == TaskCancelled
}

// RunStatus represents the state of a revision run
type RunStatus string

const (
	RunGenerating     RunStatus = "generating"
	RunBatchReviewing RunStatus = "batch_reviewing"
	RunReviewing      RunStatus = "run_reviewing"
	RunComplete       RunStatus = "complete"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
)

// IsTerminal returns true if the run can no longer advance
func (s RunStatus) IsTerminal() bool {
	return s == RunComplete || s == RunFailed || s == RunCancelled
}

// BatchStatus represents the state of one batch within a run
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchGenerating BatchStatus = "generating"
	BatchComplete   BatchStatus = "complete"
	BatchFailed     BatchStatus = "failed"
)

// WorkflowKind tags a task with the workflow that issued it
type WorkflowKind string

const (
	KindRewrite        WorkflowKind = "rewrite"
	KindLoreBackport   WorkflowKind = "lore-backport"
	KindPersonaEdition WorkflowKind = "persona-edition"
	KindPersonaReview  WorkflowKind = "persona-review"
)

// Importance is the five-level prominence scale for entities.
// Higher values sort first when ordering review batches.
type Importance string

const (
	ImportanceMythic   Importance = "mythic"
	ImportanceRenowned Importance = "renowned"
	ImportanceNotable  Importance = "notable"
	ImportanceCommon   Importance = "common"
	ImportanceMarginal Importance = "marginal"
)

// Rank returns the sort order for an importance level, most important
// first. Unknown values rank after every known level.
func (i Importance) Rank() int {
	switch i {
	case ImportanceMythic:
		return 0
	case ImportanceRenowned:
		return 1
	case ImportanceNotable:
		return 2
	case ImportanceCommon:
		return 3
	case ImportanceMarginal:
		return 4
	default:
		return 5
	}
}
