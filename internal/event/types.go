package event

import (
	"time"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

// Event is implemented by everything published on the bus
type Event interface {
	// EventType returns a "category.action" identifier
	EventType() string
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// Event type identifiers
const (
	TypeQueueChanged  = "queue.changed"
	TypeTaskFinished  = "task.finished"
	TypeRunStatus     = "run.status"
	TypeBatchReady    = "run.batch_ready"
	TypeRunFailed     = "run.failed"
	TypeRunFinalized  = "run.finalized"
	TypeEntityChanged = "library.entity_changed"
)

// QueueChangedEvent is emitted on every queue mutation with fresh stats
type QueueChangedEvent struct {
	baseEvent
	Stats domain.QueueStats
}

// NewQueueChangedEvent creates a QueueChangedEvent
func NewQueueChangedEvent(stats domain.QueueStats) QueueChangedEvent {
	return QueueChangedEvent{baseEvent: newBaseEvent(TypeQueueChanged), Stats: stats}
}

// TaskFinishedEvent is emitted when a task reaches a terminal state
type TaskFinishedEvent struct {
	baseEvent
	TaskID   string
	EntityID string
	Status   domain.TaskStatus
	Error    string
}

// NewTaskFinishedEvent creates a TaskFinishedEvent
func NewTaskFinishedEvent(taskID, entityID string, status domain.TaskStatus, errMsg string) TaskFinishedEvent {
	return TaskFinishedEvent{
		baseEvent: newBaseEvent(TypeTaskFinished),
		TaskID:    taskID,
		EntityID:  entityID,
		Status:    status,
		Error:     errMsg,
	}
}

// RunStatusEvent is emitted when a revision run transitions state
type RunStatusEvent struct {
	baseEvent
	RunID  string
	Kind   domain.WorkflowKind
	Status domain.RunStatus
}

// NewRunStatusEvent creates a RunStatusEvent
func NewRunStatusEvent(runID string, kind domain.WorkflowKind, status domain.RunStatus) RunStatusEvent {
	return RunStatusEvent{baseEvent: newBaseEvent(TypeRunStatus), RunID: runID, Kind: kind, Status: status}
}

// BatchReadyEvent is emitted when a batch finishes generating and is
// waiting on human review
type BatchReadyEvent struct {
	baseEvent
	RunID      string
	BatchIndex int
	Culture    string
	PatchCount int
}

// NewBatchReadyEvent creates a BatchReadyEvent
func NewBatchReadyEvent(runID string, batchIndex int, culture string, patchCount int) BatchReadyEvent {
	return BatchReadyEvent{
		baseEvent:  newBaseEvent(TypeBatchReady),
		RunID:      runID,
		BatchIndex: batchIndex,
		Culture:    culture,
		PatchCount: patchCount,
	}
}

// RunFailedEvent is emitted when the executor fails a whole batch
type RunFailedEvent struct {
	baseEvent
	RunID  string
	Kind   domain.WorkflowKind
	Reason string
}

// NewRunFailedEvent creates a RunFailedEvent
func NewRunFailedEvent(runID string, kind domain.WorkflowKind, reason string) RunFailedEvent {
	return RunFailedEvent{baseEvent: newBaseEvent(TypeRunFailed), RunID: runID, Kind: kind, Reason: reason}
}

// RunFinalizedEvent is emitted when a run is applied or cancelled and its
// record removed from the store
type RunFinalizedEvent struct {
	baseEvent
	RunID    string
	Kind     domain.WorkflowKind
	Applied  int
	Rejected int
}

// NewRunFinalizedEvent creates a RunFinalizedEvent
func NewRunFinalizedEvent(runID string, kind domain.WorkflowKind, applied, rejected int) RunFinalizedEvent {
	return RunFinalizedEvent{
		baseEvent: newBaseEvent(TypeRunFinalized),
		RunID:     runID,
		Kind:      kind,
		Applied:   applied,
		Rejected:  rejected,
	}
}

// EntityChangedEvent is emitted by the library watcher when an entity
// file changes on disk
type EntityChangedEvent struct {
	baseEvent
	EntityID string
	Path     string
}

// NewEntityChangedEvent creates an EntityChangedEvent
func NewEntityChangedEvent(entityID, path string) EntityChangedEvent {
	return EntityChangedEvent{baseEvent: newBaseEvent(TypeEntityChanged), EntityID: entityID, Path: path}
}
