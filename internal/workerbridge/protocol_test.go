package workerbridge

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeRoundtrip(t *testing.T) {
	data, err := MarshalEnvelope(TypeRegister, RegisterMessage{WorkerID: "w1", MaxJobs: 2})
	if err != nil {
		t.Fatal(err)
	}

	var env EnvelopeRaw
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != TypeRegister {
		t.Errorf("Type = %q, want register", env.Type)
	}

	var reg RegisterMessage
	if err := json.Unmarshal(env.Payload, &reg); err != nil {
		t.Fatal(err)
	}
	if reg.WorkerID != "w1" || reg.MaxJobs != 2 {
		t.Errorf("register = %+v", reg)
	}
}

func TestResultMessage_CarriesPatchesOrError(t *testing.T) {
	data, err := MarshalEnvelope(TypeResult, ResultMessage{
		JobID:   "job-1",
		Patches: json.RawMessage(`[{"entityId":"ent-1"}]`),
	})
	if err != nil {
		t.Fatal(err)
	}

	var env EnvelopeRaw
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	var res ResultMessage
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		t.Fatal(err)
	}
	if res.JobID != "job-1" || len(res.Patches) == 0 || res.Error != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistry_RegisterAndFindReady(t *testing.T) {
	r := NewRegistry()
	if r.FindReady() != nil {
		t.Error("empty registry returned a worker")
	}

	r.Register(&ConnectedWorker{ID: "small", MaxJobs: 1, Slots: 1})
	r.Register(&ConnectedWorker{ID: "big", MaxJobs: 4, Slots: 4})
	if r.Count() != 2 {
		t.Errorf("Count = %d, want 2", r.Count())
	}

	// The worker with the most free slots wins.
	if got := r.FindReady(); got == nil || got.ID != "big" {
		t.Errorf("FindReady = %v, want big", got)
	}

	r.Unregister("big")
	if got := r.FindReady(); got == nil || got.ID != "small" {
		t.Errorf("FindReady = %v, want small", got)
	}
}

func TestRegistry_FindReadySkipsFullWorkers(t *testing.T) {
	r := NewRegistry()
	w := &ConnectedWorker{ID: "w1", MaxJobs: 1, Slots: 1}
	r.Register(w)

	w.DecrementSlots()
	if r.FindReady() != nil {
		t.Error("worker with no free slots returned")
	}

	w.IncrementSlots()
	if r.FindReady() == nil {
		t.Error("worker not ready after slot returned")
	}
}

func TestConnectedWorker_SlotsBounded(t *testing.T) {
	w := &ConnectedWorker{ID: "w1", MaxJobs: 2, Slots: 2}

	w.IncrementSlots()
	if w.Slots != 2 {
		t.Errorf("Slots = %d, want capped at 2", w.Slots)
	}

	w.DecrementSlots()
	w.DecrementSlots()
	w.DecrementSlots()
	if w.Slots != 0 {
		t.Errorf("Slots = %d, want floored at 0", w.Slots)
	}
}

func TestCalculateBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := calculateBackoff(tc.attempt); got != tc.want {
			t.Errorf("calculateBackoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestWorkerConfig_Validate(t *testing.T) {
	valid := WorkerConfig{ServerURL: "ws://localhost:7420/ws", WorkerID: "w1", MaxJobs: 2}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cases := []WorkerConfig{
		{WorkerID: "w1", MaxJobs: 2},
		{ServerURL: "ws://localhost:7420/ws", MaxJobs: 2},
		{ServerURL: "ws://localhost:7420/ws", WorkerID: "w1"},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: invalid config accepted", i)
		}
	}
}
