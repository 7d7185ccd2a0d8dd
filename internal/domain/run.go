package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Batch is one reviewable slice of a revision run
type Batch struct {
	Culture   string      `json:"culture"`
	EntityIDs []string    `json:"entityIds"`
	Status    BatchStatus `json:"status"`
	Patches   []Patch     `json:"patches,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// RevisionRun is the durable record of a multi-batch workflow.
// The orchestrator mutates status and index; the executor writes
// per-batch patches. Runs are deleted on finalization, not archived.
type RevisionRun struct {
	RunID             string          `json:"runId"`
	ProjectID         string          `json:"projectId"`
	SimulationRunID   string          `json:"simulationRunId,omitempty"`
	Kind              WorkflowKind    `json:"kind"`
	Status            RunStatus       `json:"status"`
	CurrentBatchIndex int             `json:"currentBatchIndex"`
	Batches           []Batch         `json:"batches"`
	PatchDecisions    map[string]bool `json:"patchDecisions,omitempty"`
	AutoContinue      bool            `json:"autoContinue,omitempty"`
	Context           json.RawMessage `json:"context,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// CurrentBatch returns the batch at CurrentBatchIndex
func (r *RevisionRun) CurrentBatch() (*Batch, error) {
	if r.CurrentBatchIndex < 0 || r.CurrentBatchIndex >= len(r.Batches) {
		return nil, fmt.Errorf("batch index %d out of range (%d batches)", r.CurrentBatchIndex, len(r.Batches))
	}
	return &r.Batches[r.CurrentBatchIndex], nil
}

// AllBatchesComplete returns true when every batch has finished generating
func (r *RevisionRun) AllBatchesComplete() bool {
	for i := range r.Batches {
		if r.Batches[i].Status != BatchComplete {
			return false
		}
	}
	return len(r.Batches) > 0
}

// Accepted returns whether the given entity's patch is accepted.
// Entities with no recorded decision default to accepted.
func (r *RevisionRun) Accepted(entityID string) bool {
	if r.PatchDecisions == nil {
		return true
	}
	decision, ok := r.PatchDecisions[entityID]
	if !ok {
		return true
	}
	return decision
}

// AcceptedPatches collects every patch across completed batches whose
// entity decision is not an explicit reject
func (r *RevisionRun) AcceptedPatches() []Patch {
	var accepted []Patch
	for i := range r.Batches {
		if r.Batches[i].Status != BatchComplete {
			continue
		}
		for _, p := range r.Batches[i].Patches {
			if r.Accepted(p.EntityID) {
				accepted = append(accepted, p)
			}
		}
	}
	return accepted
}
