// Package registry tracks which optional collaborators are actually
// available on this host. Each capability is probed once at startup and
// recorded as available or unavailable with the probe's reason; callers
// query the registry and branch on presence instead of nil-checking
// half-constructed collaborators.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Well-known capability names.
const (
	CapModelProvider  = "model_provider"
	CapRetriever      = "retriever"
	CapSystemd        = "systemd"
	CapSensors        = "sensors"
	CapPackageManager = "package_manager"
)

// UnavailableError reports an operation against a capability whose
// startup probe failed.
type UnavailableError struct {
	Capability string
	Reason     string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("feature_unavailable: %s: %s", e.Capability, e.Reason)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Probe checks one collaborator. nil means available.
type Probe func(ctx context.Context) error

// Capability is one probed collaborator.
type Capability struct {
	Name      string    `json:"name"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Registry holds probe outcomes.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
	log  *zap.Logger
}

// New creates an empty registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{caps: make(map[string]Capability), log: log}
}

// Probe runs the probe and records its outcome under name. Re-probing
// replaces the previous record.
func (r *Registry) Probe(ctx context.Context, name string, probe Probe) Capability {
	entry := Capability{Name: name, Available: true, CheckedAt: time.Now().UTC()}
	if err := probe(ctx); err != nil {
		entry.Available = false
		entry.Reason = err.Error()
		r.log.Warn("capability unavailable", zap.String("capability", name), zap.Error(err))
	} else {
		r.log.Info("capability available", zap.String("capability", name))
	}

	r.mu.Lock()
	r.caps[name] = entry
	r.mu.Unlock()
	return entry
}

// Get returns the probe record for name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.caps[name]
	return entry, ok
}

// Available reports whether name was probed and found working.
func (r *Registry) Available(name string) bool {
	entry, ok := r.Get(name)
	return ok && entry.Available
}

// Require returns nil when name is available, otherwise the typed
// unavailable error. Unprobed capabilities count as unavailable.
func (r *Registry) Require(name string) error {
	entry, ok := r.Get(name)
	if !ok {
		return &UnavailableError{Capability: name, Reason: "not probed"}
	}
	if !entry.Available {
		return &UnavailableError{Capability: name, Reason: entry.Reason}
	}
	return nil
}

// List returns all probe records, sorted by name.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]Capability, 0, len(r.caps))
	for _, entry := range r.caps {
		caps = append(caps, entry)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Name < caps[j].Name })
	return caps
}

// ProbeBinary reports whether the named binary is on PATH.
func ProbeBinary(binary string) Probe {
	return func(context.Context) error {
		if _, err := exec.LookPath(binary); err != nil {
			return fmt.Errorf("%s not on PATH", binary)
		}
		return nil
	}
}

// ProbeAny passes when at least one probe passes.
func ProbeAny(probes ...Probe) Probe {
	return func(ctx context.Context) error {
		var last error
		for _, p := range probes {
			err := p(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last == nil {
			last = fmt.Errorf("no probes configured")
		}
		return last
	}
}
