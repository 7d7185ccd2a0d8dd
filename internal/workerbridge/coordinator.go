package workerbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/executor"
)

// ErrNoWorkers is returned when a job has waited WorkerWaitTimeout
// without any worker connecting to pick it up
var ErrNoWorkers = errors.New("no enrichment workers connected")

// CoordinatorConfig configures the coordinator
type CoordinatorConfig struct {
	ListenAddr        string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	// WorkerWaitTimeout bounds how long a queued job waits while no
	// worker is connected before Execute fails with ErrNoWorkers. A
	// job assigned to a worker is not subject to it.
	WorkerWaitTimeout time.Duration
}

// pendingJob tracks a job waiting for dispatch or completion
type pendingJob struct {
	job      *JobMessage
	resultCh chan *ResultMessage
	workerID string // assigned worker, empty while queued
}

// Coordinator accepts worker connections and dispatches enrichment
// jobs to them. It satisfies the executor interface, so the task queue
// can treat remote workers like any other executor.
type Coordinator struct {
	config   CoordinatorConfig
	registry *Registry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	queue   []*pendingJob
	pending map[string]*pendingJob // jobID -> job

	server *http.Server
}

// NewCoordinator creates a coordinator listening for workers
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 90 * time.Second
	}
	if config.WorkerWaitTimeout == 0 {
		config.WorkerWaitTimeout = 60 * time.Second
	}
	return &Coordinator{
		config:   config,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pending: make(map[string]*pendingJob),
	}
}

// Registry returns the worker registry
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Execute implements the executor interface: the task is sent to a
// connected worker and the call resolves when the worker answers or
// ctx is cancelled. On cancellation a cancel message is sent to the
// assigned worker, but its eventual result is discarded regardless.
// A job left queued for WorkerWaitTimeout with no worker connected
// fails with ErrNoWorkers.
func (c *Coordinator) Execute(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
	pj := &pendingJob{
		job: &JobMessage{
			JobID:    task.ID,
			EntityID: task.EntityID,
			Kind:     string(task.Kind),
			RunID:    task.RunID,
			Payload:  task.Payload,
		},
		resultCh: make(chan *ResultMessage, 1),
	}

	c.mu.Lock()
	c.queue = append(c.queue, pj)
	c.pending[task.ID] = pj
	c.mu.Unlock()

	c.tryDispatch()

	wait := time.NewTimer(c.config.WorkerWaitTimeout)
	defer wait.Stop()

	for {
		select {
		case <-ctx.Done():
			c.abandon(task.ID)
			return nil, ctx.Err()
		case <-wait.C:
			c.mu.Lock()
			queued := pj.workerID == ""
			c.mu.Unlock()
			if queued && c.registry.Count() == 0 {
				c.abandon(task.ID)
				return nil, fmt.Errorf("%w: job %s waited %s", ErrNoWorkers, task.ID, c.config.WorkerWaitTimeout)
			}
			wait.Reset(c.config.WorkerWaitTimeout)
		case msg := <-pj.resultCh:
			if msg.Error != "" {
				return nil, &executor.Error{TaskID: task.ID, EntityID: task.EntityID, Err: errors.New(msg.Error)}
			}
			var patches []domain.Patch
			if len(msg.Patches) > 0 {
				if err := json.Unmarshal(msg.Patches, &patches); err != nil {
					return nil, fmt.Errorf("decode worker patches: %w", err)
				}
			}
			return &domain.TaskResult{TaskID: task.ID, Patches: patches}, nil
		}
	}
}

// tryDispatch assigns queued jobs to workers with free slots
func (c *Coordinator) tryDispatch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining []*pendingJob
	for _, pj := range c.queue {
		worker := c.registry.FindReady()
		if worker == nil {
			remaining = append(remaining, pj)
			continue
		}

		data, err := MarshalEnvelope(TypeJob, pj.job)
		if err != nil {
			remaining = append(remaining, pj)
			continue
		}
		worker.DecrementSlots()
		pj.workerID = worker.ID
		if err := worker.WriteMessage(websocket.TextMessage, data); err != nil {
			worker.IncrementSlots()
			pj.workerID = ""
			remaining = append(remaining, pj)
			continue
		}
	}
	c.queue = remaining
}

// abandon drops a pending job after Execute stopped waiting on it
func (c *Coordinator) abandon(jobID string) {
	c.mu.Lock()
	pj, ok := c.pending[jobID]
	if ok {
		delete(c.pending, jobID)
		for i, queued := range c.queue {
			if queued.job.JobID == jobID {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if ok && pj.workerID != "" {
		if w := c.registry.Get(pj.workerID); w != nil {
			if data, err := MarshalEnvelope(TypeCancel, CancelMessage{JobID: jobID}); err == nil {
				_ = w.WriteMessage(websocket.TextMessage, data)
			}
		}
	}
}

// complete resolves a pending job with the worker's result
func (c *Coordinator) complete(workerID string, msg *ResultMessage) {
	c.mu.Lock()
	pj, ok := c.pending[msg.JobID]
	if ok {
		delete(c.pending, msg.JobID)
	}
	c.mu.Unlock()

	if w := c.registry.Get(workerID); w != nil {
		w.IncrementSlots()
	}

	if ok {
		pj.resultCh <- msg
		close(pj.resultCh)
	}
	c.tryDispatch()
}

// requeueWorkerJobs returns a dead worker's in-flight jobs to the queue
func (c *Coordinator) requeueWorkerJobs(workerID string) {
	c.mu.Lock()
	for _, pj := range c.pending {
		if pj.workerID == workerID {
			pj.workerID = ""
			c.queue = append(c.queue, pj)
		}
	}
	c.mu.Unlock()
}

// HandleWebSocket upgrades an incoming worker connection
func (c *Coordinator) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	go c.handleWorkerConnection(conn)
}

func (c *Coordinator) handleWorkerConnection(conn *websocket.Conn) {
	var workerID string
	defer func() {
		conn.Close()
		if workerID != "" {
			c.registry.Unregister(workerID)
			c.requeueWorkerJobs(workerID)
			c.tryDispatch()
			log.Printf("worker %s disconnected", workerID)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
		return nil
	})

	go c.heartbeat(conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))

		var env EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("invalid message: %v", err)
			continue
		}

		switch env.Type {
		case TypeRegister:
			var reg RegisterMessage
			if err := json.Unmarshal(env.Payload, &reg); err != nil {
				log.Printf("invalid register: %v", err)
				continue
			}
			workerID = reg.WorkerID
			c.registry.Register(&ConnectedWorker{
				ID:      reg.WorkerID,
				MaxJobs: reg.MaxJobs,
				Slots:   reg.MaxJobs,
				Conn:    conn,
			})
			log.Printf("worker %s registered (max_jobs=%d)", reg.WorkerID, reg.MaxJobs)
			c.tryDispatch()

		case TypeResult:
			var res ResultMessage
			if err := json.Unmarshal(env.Payload, &res); err != nil {
				log.Printf("invalid result: %v", err)
				continue
			}
			c.complete(workerID, &res)
		}
	}
}

// heartbeat pings the worker until the connection dies
func (c *Coordinator) heartbeat(conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		deadline := time.Now().Add(10 * time.Second)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			return
		}
	}
}

// Start begins serving worker connections on the configured address
func (c *Coordinator) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.HandleWebSocket)

	c.server = &http.Server{Addr: c.config.ListenAddr, Handler: mux}
	return c.server.ListenAndServe()
}

// Shutdown stops the coordinator's HTTP server
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

var _ executor.Executor = (*Coordinator)(nil)
