package tools

import "context"

// Noop does nothing and always succeeds. Autonomous decisions use it
// when the model concludes no action is needed.
type Noop struct{}

func (Noop) Name() string      { return "noop" }
func (Noop) SideEffects() bool { return false }

func (Noop) Execute(_ context.Context, req Request) Response {
	return success(req, map[string]any{"message": "no action taken"})
}
