package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// SystemEntityPrefix marks sentinel entity ids used for whole-run jobs
// that do not target a single entity. Sentinel tasks are exempt from the
// queue's per-entity single-flight check.
const SystemEntityPrefix = "__system__"

// Task is one unit of executor work
type Task struct {
	ID       string          `json:"id"`
	EntityID string          `json:"entityId"`
	Entity   EntityRef       `json:"entity"`
	Kind     WorkflowKind    `json:"type"`
	Payload  json.RawMessage `json:"prompt,omitempty"`
	RunID    string          `json:"runId,omitempty"`

	Status     TaskStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// IsSentinel returns true for whole-run sentinel tasks
func (t *Task) IsSentinel() bool {
	return strings.HasPrefix(t.EntityID, SystemEntityPrefix)
}

// TaskResult is what the executor produces for one task
type TaskResult struct {
	TaskID  string          `json:"taskId"`
	Patches []Patch         `json:"patches,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	Err     error           `json:"-"`
}

// QueueStats is a derived snapshot of the queue's current contents
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Errored   int `json:"errored"`
}

// Total returns the number of tasks visible in the queue
func (s QueueStats) Total() int {
	return s.Queued + s.Running + s.Succeeded + s.Errored
}
