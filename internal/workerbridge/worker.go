package workerbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/executor"
)

// Reconnect backoff bounds
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// pingWait is how long the worker waits for a coordinator ping before
// treating the connection as dead
const pingWait = 90 * time.Second

// writeWait is the time allowed to write a control message
const writeWait = 10 * time.Second

func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// WorkerConfig configures the worker client
type WorkerConfig struct {
	ServerURL string
	WorkerID  string
	MaxJobs   int
}

// Validate checks the config is usable
func (c *WorkerConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.WorkerID == "" {
		return fmt.Errorf("worker_id is required")
	}
	if c.MaxJobs <= 0 {
		return fmt.Errorf("max_jobs must be positive")
	}
	return nil
}

// Worker is an enrichment agent that connects to a coordinator,
// receives jobs, runs them through a local executor, and reports
// results back
type Worker struct {
	config WorkerConfig
	exec   executor.Executor

	connMu sync.Mutex
	conn   *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	jobsMu sync.Mutex
	jobs   map[string]context.CancelFunc
}

// NewWorker creates a worker client around a local executor
func NewWorker(config WorkerConfig, exec executor.Executor) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		config: config,
		exec:   exec,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]context.CancelFunc),
	}, nil
}

// Run connects and serves jobs until Stop is called, reconnecting with
// exponential backoff on connection loss
func (w *Worker) Run() error {
	attempt := 0
	for {
		if w.ctx.Err() != nil {
			return nil
		}

		if err := w.connect(); err != nil {
			delay := calculateBackoff(attempt)
			attempt++
			log.Printf("connect failed (attempt %d): %v; retrying in %v", attempt, err, delay)
			select {
			case <-w.ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		w.readLoop()
	}
}

// Stop shuts the worker down and cancels in-flight jobs
func (w *Worker) Stop() {
	w.cancel()
	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.connMu.Unlock()
}

func (w *Worker) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(w.config.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()

	return w.send(TypeRegister, RegisterMessage{
		WorkerID: w.config.WorkerID,
		MaxJobs:  w.config.MaxJobs,
	})
}

func (w *Worker) readLoop() {
	for {
		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}

		var env EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("invalid message: %v", err)
			continue
		}

		switch env.Type {
		case TypeJob:
			var job JobMessage
			if err := json.Unmarshal(env.Payload, &job); err != nil {
				log.Printf("invalid job: %v", err)
				continue
			}
			go w.runJob(&job)

		case TypeCancel:
			var cancelMsg CancelMessage
			if err := json.Unmarshal(env.Payload, &cancelMsg); err != nil {
				continue
			}
			w.jobsMu.Lock()
			if cancel, ok := w.jobs[cancelMsg.JobID]; ok {
				cancel()
			}
			w.jobsMu.Unlock()
		}
	}
}

func (w *Worker) runJob(job *JobMessage) {
	ctx, cancel := context.WithCancel(w.ctx)
	w.jobsMu.Lock()
	w.jobs[job.JobID] = cancel
	w.jobsMu.Unlock()
	defer func() {
		cancel()
		w.jobsMu.Lock()
		delete(w.jobs, job.JobID)
		w.jobsMu.Unlock()
	}()

	task := &domain.Task{
		ID:       job.JobID,
		EntityID: job.EntityID,
		Kind:     domain.WorkflowKind(job.Kind),
		RunID:    job.RunID,
		Payload:  job.Payload,
	}

	result, err := w.exec.Execute(ctx, task)
	if ctx.Err() != nil {
		// Cancelled; the coordinator already stopped waiting.
		return
	}

	msg := ResultMessage{JobID: job.JobID}
	if err != nil {
		msg.Error = err.Error()
	} else if result != nil && len(result.Patches) > 0 {
		patches, merr := json.Marshal(result.Patches)
		if merr != nil {
			msg.Error = fmt.Sprintf("encode patches: %v", merr)
		} else {
			msg.Patches = patches
		}
	}

	if err := w.send(TypeResult, msg); err != nil {
		log.Printf("send result for job %s: %v", job.JobID, err)
	}
}

func (w *Worker) send(msgType string, payload interface{}) error {
	data, err := MarshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
