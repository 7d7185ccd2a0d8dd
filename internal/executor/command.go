package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

// CommandExecutor runs each task as a subprocess. The batch payload is
// written to the process's stdin and the process is expected to print a
// TaskResult-shaped JSON document on stdout. Task metadata is passed in
// the environment so wrapper scripts can route without parsing stdin.
type CommandExecutor struct {
	command string
	args    []string
}

// NewCommandExecutor creates an executor invoking command with args
func NewCommandExecutor(command string, args ...string) *CommandExecutor {
	return &CommandExecutor{command: command, args: args}
}

// Execute runs the subprocess for one task
func (e *CommandExecutor) Execute(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
	if e.command == "" {
		return nil, &Error{TaskID: task.ID, EntityID: task.EntityID, Err: fmt.Errorf("no executor command configured")}
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = bytes.NewReader(task.Payload)
	cmd.Env = append(os.Environ(),
		"CANONRY_TASK_ID="+task.ID,
		"CANONRY_ENTITY_ID="+task.EntityID,
		"CANONRY_WORKFLOW="+string(task.Kind),
		"CANONRY_RUN_ID="+task.RunID,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return nil, &Error{TaskID: task.ID, EntityID: task.EntityID, Err: err}
	}

	result := &domain.TaskResult{TaskID: task.ID}
	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
		if err := json.Unmarshal(out, result); err != nil {
			return nil, &Error{TaskID: task.ID, EntityID: task.EntityID, Err: fmt.Errorf("decode executor output: %w", err)}
		}
		result.TaskID = task.ID
	}
	return result, nil
}
