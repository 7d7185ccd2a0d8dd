// Package workerbridge connects the orchestration core to out-of-process
// enrichment workers over WebSocket. The coordinator side satisfies the
// executor interface; the worker side wraps whatever actually talks to
// the LLM. Delivery is at-least-once: a worker dying mid-job requeues
// the job, and result application is idempotent.
package workerbridge

import "encoding/json"

// Envelope wraps all messages with a type discriminator
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is the receive-side envelope; the payload is unmarshaled
// based on the message type
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type and payload
func MarshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// Worker -> Coordinator messages

// RegisterMessage is sent when a worker first connects
type RegisterMessage struct {
	WorkerID string `json:"worker_id"`
	MaxJobs  int    `json:"max_jobs"`
}

// ResultMessage is sent when a job finishes, successfully or not
type ResultMessage struct {
	JobID   string          `json:"job_id"`
	Patches json.RawMessage `json:"patches,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Coordinator -> Worker messages

// JobMessage assigns an enrichment job to a worker
type JobMessage struct {
	JobID    string          `json:"job_id"`
	EntityID string          `json:"entity_id"`
	Kind     string          `json:"kind"`
	RunID    string          `json:"run_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// CancelMessage requests job cancellation
type CancelMessage struct {
	JobID string `json:"job_id"`
}

// Message type constants
const (
	TypeRegister = "register"
	TypeResult   = "result"
	TypeJob      = "job"
	TypeCancel   = "cancel"
)
