// Package task defines the autonomous units of work the scheduler
// fires. A task describes its intent for the model prompt, snapshots
// the state the decision needs, estimates its resource appetite for the
// budget check, and can execute directly when the decided action is the
// task itself.
package task

import (
	"context"
	"sort"
	"sync"
)

// Task is one schedulable unit of autonomous work.
type Task interface {
	// Name is the identifier jobs reference.
	Name() string

	// Describe returns the intent sentence used in the autonomous prompt.
	Describe() string

	// GatherState snapshots whatever the decision needs to see. Probe
	// failures surface as `<probe>_error` keys, not as a failed gather.
	GatherState(ctx context.Context) map[string]any

	// EstimateResources declares the expected footprint using the
	// budget estimate keys. Empty map means use conservative defaults.
	EstimateResources() map[string]float64

	// Execute performs the task's own work.
	Execute(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Registry maps task names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task. A later registration under the same name wins.
func (r *Registry) Register(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.Name()] = t
}

// Get returns the named task.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Names lists registered tasks, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
