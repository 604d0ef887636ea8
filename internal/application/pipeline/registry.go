package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Built-in handler kinds accepted by the step catalog.
const (
	HandlerKindSimulate = "simulate"
	HandlerKindEcho     = "echo"
	HandlerKindFail     = "fail"
)

// StepDefinition is the declarative form of a Step
type StepDefinition struct {
	Name     string        `yaml:"name"`
	Agent    string        `yaml:"agent"`
	Handler  string        `yaml:"handler"`
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Message  string        `yaml:"message"`
}

// HandlerFactory builds a handler from its definition
type HandlerFactory func(def StepDefinition) (Handler, error)

// Registry maps handler kinds to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

// NewRegistry creates a registry with the built-in handler kinds
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]HandlerFactory)}

	r.Register(HandlerKindSimulate, func(def StepDefinition) (Handler, error) {
		if def.MinDelay < 0 || def.MaxDelay < 0 {
			return nil, fmt.Errorf("delays must not be negative")
		}
		if def.MaxDelay < def.MinDelay {
			return nil, fmt.Errorf("max_delay %s is below min_delay %s", def.MaxDelay, def.MinDelay)
		}
		return NewSimulatedHandler(def.MinDelay, def.MaxDelay, nil), nil
	})
	r.Register(HandlerKindEcho, func(StepDefinition) (Handler, error) {
		return EchoHandler(), nil
	})
	r.Register(HandlerKindFail, func(def StepDefinition) (Handler, error) {
		return FailHandler(def.Message), nil
	})

	return r
}

// Register adds or replaces a handler kind
func (r *Registry) Register(kind string, factory HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Kinds returns the registered handler kinds, sorted
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build resolves a definition into a runnable step
func (r *Registry) Build(def StepDefinition) (Step, error) {
	if def.Name == "" {
		return Step{}, fmt.Errorf("step name is required")
	}

	r.mu.RLock()
	factory, ok := r.factories[def.Handler]
	r.mu.RUnlock()
	if !ok {
		return Step{}, fmt.Errorf("step %s: unknown handler kind %q", def.Name, def.Handler)
	}

	handler, err := factory(def)
	if err != nil {
		return Step{}, fmt.Errorf("step %s: %w", def.Name, err)
	}

	step := Step{Name: def.Name, Agent: def.Agent, Handler: handler}
	if err := step.Validate(); err != nil {
		return Step{}, err
	}
	return step, nil
}
