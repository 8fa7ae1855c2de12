// internal/sandbox/engine.go
package sandbox

import (
	"fmt"
	"sync"

	"github.com/dop251/goja_nodejs/require"
)

// Engine describes one rendering runtime contract a template can target.
// Each engine owns a work queue and the exact set of modules its sandbox
// will resolve; nothing outside Modules is ever reachable from template code.
type Engine struct {
	// Name is the engine identifier carried by templates and work messages,
	// e.g. "mustache@1".
	Name string

	// Queue is the work queue the dispatcher publishes to for this engine.
	Queue string

	// ContentType is the MIME type outputs are stored with.
	ContentType string

	// Modules is the allow-list: module name -> native loader. Installed
	// into a fresh require registry per invocation.
	Modules map[string]require.ModuleLoader
}

// Registry holds the engines known at startup. Unknown engine keys are
// rejected here, at registration and lookup, never per-render.
type Registry struct {
	engines map[string]*Engine
	mu      sync.RWMutex
}

// NewRegistry creates an empty engine registry
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]*Engine),
	}
}

// Register adds an engine to the registry
func (r *Registry) Register(e *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Name == "" || e.Queue == "" {
		return fmt.Errorf("engine must declare a name and a queue")
	}
	if _, exists := r.engines[e.Name]; exists {
		return fmt.Errorf("engine %s already registered", e.Name)
	}

	r.engines[e.Name] = e
	return nil
}

// Get retrieves an engine from the registry
func (r *Registry) Get(name string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.engines[name]
	if !exists {
		return nil, fmt.Errorf("engine %s not found", name)
	}

	return e, nil
}

// All returns every registered engine.
func (r *Registry) All() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	return engines
}
