package pipeline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the YAML layout of a pipelines file
type CatalogFile struct {
	Default   []StepDefinition            `yaml:"default"`
	Pipelines map[string][]StepDefinition `yaml:"pipelines"`
}

// Catalog resolves the steps to run for a task type
type Catalog struct {
	mu     sync.RWMutex
	def    []Step
	byType map[string][]Step
}

// NewCatalog creates a catalog whose fallback pipeline is def
func NewCatalog(def []Step) *Catalog {
	return &Catalog{
		def:    def,
		byType: make(map[string][]Step),
	}
}

// Set registers the pipeline for taskType
func (c *Catalog) Set(taskType string, steps []Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType[taskType] = steps
}

// Resolve returns the pipeline for taskType, or the default pipeline
func (c *Catalog) Resolve(taskType string) []Step {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if steps, ok := c.byType[taskType]; ok {
		return steps
	}
	return c.def
}

// TaskTypes returns the task types with a dedicated pipeline
func (c *Catalog) TaskTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]string, 0, len(c.byType))
	for t := range c.byType {
		types = append(types, t)
	}
	return types
}

// DefaultDefinitions is the built-in five step simulated pipeline
func DefaultDefinitions() []StepDefinition {
	return []StepDefinition{
		{Name: "validate", Agent: "validator", Handler: HandlerKindSimulate, MinDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
		{Name: "enrich", Agent: "context-agent", Handler: HandlerKindSimulate, MinDelay: 20 * time.Millisecond, MaxDelay: 100 * time.Millisecond},
		{Name: "analyze", Agent: "reasoning-agent", Handler: HandlerKindSimulate, MinDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond},
		{Name: "synthesize", Agent: "synthesis-agent", Handler: HandlerKindSimulate, MinDelay: 20 * time.Millisecond, MaxDelay: 100 * time.Millisecond},
		{Name: "finalize", Agent: "orchestrator", Handler: HandlerKindSimulate, MinDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
	}
}

// DefaultCatalog builds a catalog holding only the built-in pipeline
func DefaultCatalog(reg *Registry) (*Catalog, error) {
	steps, err := buildSteps(reg, DefaultDefinitions())
	if err != nil {
		return nil, err
	}
	return NewCatalog(steps), nil
}

// LoadCatalog reads a YAML pipelines file
func LoadCatalog(path string, reg *Registry) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipelines %s: %w", path, err)
	}
	cat, err := ParseCatalog(data, reg)
	if err != nil {
		return nil, fmt.Errorf("parse pipelines %s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog decodes YAML pipelines. A file without a default section
// falls back to the built-in pipeline.
func ParseCatalog(data []byte, reg *Registry) (*Catalog, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	defs := file.Default
	if len(defs) == 0 {
		defs = DefaultDefinitions()
	}
	def, err := buildSteps(reg, defs)
	if err != nil {
		return nil, fmt.Errorf("default pipeline: %w", err)
	}

	cat := NewCatalog(def)
	for taskType, defs := range file.Pipelines {
		if len(defs) == 0 {
			return nil, fmt.Errorf("pipeline %s has no steps", taskType)
		}
		steps, err := buildSteps(reg, defs)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", taskType, err)
		}
		cat.Set(taskType, steps)
	}
	return cat, nil
}

func buildSteps(reg *Registry, defs []StepDefinition) ([]Step, error) {
	steps := make([]Step, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate step name: %s", d.Name)
		}
		seen[d.Name] = true

		step, err := reg.Build(d)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}
