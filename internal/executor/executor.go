// Package executor defines the boundary to the LLM enrichment executor.
// The orchestration core treats it as a black box: a task goes in, a
// result or a typed error comes out. Implementations include the
// in-process Func adapter (tests, embedded execution) and the websocket
// worker bridge.
package executor

import (
	"context"
	"fmt"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

// Executor produces a TaskResult for a task. Execute is called from the
// queue's dispatch goroutines and must honor ctx cancellation; a result
// returned after cancellation is discarded by the caller.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (*domain.TaskResult, error)
}

// Func adapts a plain function to the Executor interface
type Func func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error)

// Execute implements Executor
func (f Func) Execute(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
	return f(ctx, task)
}

// Error wraps an executor failure with the task it belongs to
type Error struct {
	TaskID   string
	EntityID string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("executor failed for task %s (entity %s): %v", e.TaskID, e.EntityID, e.Err)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}
