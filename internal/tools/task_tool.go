package tools

import (
	"context"

	"github.com/cerebric/cerebric/internal/task"
)

// TaskTool adapts a task into a tool so task execution flows through
// the registry's timing, metrics, and audit like any other capability.
type TaskTool struct {
	t           task.Task
	sideEffects bool
}

// NewTaskTool wraps t. sideEffects must be true for tasks that change
// system state; such tasks only run when the request authorises apply.
func NewTaskTool(t task.Task, sideEffects bool) *TaskTool {
	return &TaskTool{t: t, sideEffects: sideEffects}
}

func (tt *TaskTool) Name() string { return tt.t.Name() }

func (tt *TaskTool) SideEffects() bool { return tt.sideEffects }

func (tt *TaskTool) Execute(ctx context.Context, req Request) Response {
	if tt.sideEffects && !req.Apply() {
		return success(req, map[string]any{
			"applied": false,
			"task":    tt.t.Name(),
			"intent":  tt.t.Describe(),
		})
	}
	out, err := tt.t.Execute(ctx, req.Inputs)
	if err != nil {
		return failure(req, err.Error())
	}
	if out == nil {
		out = map[string]any{}
	}
	return success(req, out)
}
