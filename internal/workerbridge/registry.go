package workerbridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectedWorker represents one worker connection
type ConnectedWorker struct {
	ID          string
	MaxJobs     int
	Slots       int
	Conn        *websocket.Conn
	ConnectedAt time.Time

	mu      sync.Mutex
	writeMu sync.Mutex // protects Conn writes
}

// DecrementSlots reduces available slots by 1
func (w *ConnectedWorker) DecrementSlots() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Slots > 0 {
		w.Slots--
	}
}

// IncrementSlots returns a slot after a job resolves
func (w *ConnectedWorker) IncrementSlots() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Slots < w.MaxJobs {
		w.Slots++
	}
}

// WriteMessage sends a message on the worker connection (thread-safe)
func (w *ConnectedWorker) WriteMessage(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.Conn.WriteMessage(messageType, data)
}

// Registry tracks connected workers
type Registry struct {
	workers map[string]*ConnectedWorker
	mu      sync.RWMutex
}

// NewRegistry creates an empty worker registry
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*ConnectedWorker)}
}

// Register adds a worker to the registry
func (r *Registry) Register(w *ConnectedWorker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.ConnectedAt = time.Now()
	r.workers[w.ID] = w
}

// Unregister removes a worker from the registry
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// Get returns a worker by id, or nil
func (r *Registry) Get(id string) *ConnectedWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workers[id]
}

// Count returns the number of connected workers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// FindReady returns a worker with free slots, preferring the one with
// the most capacity
func (r *Registry) FindReady() *ConnectedWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *ConnectedWorker
	var bestSlots int
	for _, w := range r.workers {
		w.mu.Lock()
		slots := w.Slots
		w.mu.Unlock()

		if slots > 0 && slots > bestSlots {
			best = w
			bestSlots = slots
		}
	}
	return best
}
