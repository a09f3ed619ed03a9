package nlp

import (
	"log/slog"
	"slices"
	"sync"
)

// ToggleAction reports what Toggle or SetEnabled changed.
type ToggleAction int

const (
	ToggleNone ToggleAction = iota
	ToggleRemoved
	ToggleAdded
)

func (a ToggleAction) String() string {
	switch a {
	case ToggleRemoved:
		return "removed"
	case ToggleAdded:
		return "added"
	default:
		return "none"
	}
}

// Registry is an ordered set of processors. Iteration follows insertion
// order. It is safe for concurrent use.
type Registry struct {
	log *slog.Logger

	mu         sync.RWMutex
	processors []*Processor
}

var defaultRegistry = NewRegistry(nil)

// NewRegistry returns an empty registry. A nil logger uses slog.Default at
// call time.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: log}
}

// DefaultRegistry is the process-wide registry plugins register into.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds p to the default registry.
func Register(p *Processor) bool {
	return defaultRegistry.Register(p)
}

// Unregister removes p from the default registry.
func Unregister(p *Processor) bool {
	return defaultRegistry.Unregister(p)
}

// Toggle flips p in the default registry.
func Toggle(p *Processor) ToggleAction {
	return defaultRegistry.Toggle(p)
}

// SetEnabled sets p's membership in the default registry.
func SetEnabled(p *Processor, enabled bool) ToggleAction {
	return defaultRegistry.SetEnabled(p, enabled)
}

// Register adds p. Registering a processor twice logs a warning and leaves
// the registry unchanged.
func (r *Registry) Register(p *Processor) bool {
	if p == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(p) >= 0 {
		r.logger().Warn("Natural language processor already registered", "processor", p.Name())
		return false
	}

	r.processors = append(r.processors, p)
	return true
}

// Unregister removes p and reports whether it was registered.
func (r *Registry) Unregister(p *Processor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(p)
	if idx < 0 {
		return false
	}

	r.processors = slices.Delete(r.processors, idx, idx+1)
	return true
}

// Toggle removes p when present and adds it when absent.
func (r *Registry) Toggle(p *Processor) ToggleAction {
	return r.toggle(p, nil)
}

// SetEnabled adds p when enabled and absent, removes it when disabled and
// present, and otherwise does nothing.
func (r *Registry) SetEnabled(p *Processor, enabled bool) ToggleAction {
	return r.toggle(p, &enabled)
}

func (r *Registry) toggle(p *Processor, state *bool) ToggleAction {
	if p == nil {
		return ToggleNone
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(p)
	switch {
	case idx >= 0 && (state == nil || !*state):
		r.processors = slices.Delete(r.processors, idx, idx+1)
		return ToggleRemoved
	case idx < 0 && (state == nil || *state):
		r.processors = append(r.processors, p)
		return ToggleAdded
	default:
		return ToggleNone
	}
}

func (r *Registry) Contains(p *Processor) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.indexLocked(p) >= 0
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.processors)
}

// Processors returns a copy of the registered processors in iteration order.
func (r *Registry) Processors() []*Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.processors)
}

// Snapshot returns an independent registry holding the same processors.
// Later changes to either registry are not visible in the other.
func (r *Registry) Snapshot() *Registry {
	return &Registry{log: r.log, processors: r.Processors()}
}

func (r *Registry) indexLocked(p *Processor) int {
	return slices.Index(r.processors, p)
}

func (r *Registry) logger() *slog.Logger {
	if r.log != nil {
		return r.log
	}

	return slog.Default().With("component", "nlp.registry")
}
