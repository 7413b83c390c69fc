// Package plan loads YAML task plans and feeds them to the queue and the
// delegation tracker.
//
// A plan file looks like:
//
//	tasks:
//	  - key: schema
//	    description: Design the schema
//	    priority: high
//	  - key: api
//	    description: Write the API
//	    complexity: complex
//	    depends_on: [schema]
//	    steps:
//	      - description: Outline handlers
//	      - description: Implement handlers
//	subagents:
//	  - name: docs
//	    description: Draft the README
//	    workflow: write-docs
//	    params: {audience: operators}
package plan

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// Validation errors.
var (
	ErrEmptyPlan         = errors.New("plan has no tasks or sub-agents")
	ErrMissingKey        = errors.New("task has no key")
	ErrDuplicateKey      = errors.New("duplicate task key")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycleDetected     = errors.New("circular dependency detected")
	ErrInvalidPriority   = errors.New("invalid priority")
)

// Plan is a parsed plan file.
type Plan struct {
	Tasks     []Task     `yaml:"tasks"`
	SubAgents []SubAgent `yaml:"subagents"`
}

// Task is one queue entry of a plan.
type Task struct {
	Key         string            `yaml:"key"`
	Description string            `yaml:"description"`
	Priority    string            `yaml:"priority,omitempty"`
	Complexity  string            `yaml:"complexity,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Steps       []models.PlanStep `yaml:"steps,omitempty"`
}

// SubAgent is one delegated task of a plan.
type SubAgent struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Workflow    string         `yaml:"workflow,omitempty"`
	Params      map[string]any `yaml:"params,omitempty"`
}

// Load reads and validates the plan at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a plan.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) normalize() {
	for i := range p.Tasks {
		t := &p.Tasks[i]
		t.Key = strings.TrimSpace(t.Key)
		for j, dep := range t.DependsOn {
			t.DependsOn[j] = strings.TrimSpace(dep)
		}
	}
}

// Validate checks keys, priorities and the dependency graph.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 && len(p.SubAgents) == 0 {
		return ErrEmptyPlan
	}

	keys := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		key := strings.TrimSpace(t.Key)
		if key == "" {
			return fmt.Errorf("task %d: %w", i+1, ErrMissingKey)
		}
		if keys[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
		keys[key] = true
		if t.Priority != "" && !models.Priority(strings.ToLower(t.Priority)).Valid() {
			return fmt.Errorf("task %s: %w %q", key, ErrInvalidPriority, t.Priority)
		}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !keys[dep] {
				return fmt.Errorf("task %s: %w %q", t.Key, ErrUnknownDependency, dep)
			}
		}
	}
	for i, s := range p.SubAgents {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("sub-agent %d has no name", i+1)
		}
	}

	if key, ok := p.findCycle(); ok {
		return fmt.Errorf("%w involving %s", ErrCycleDetected, key)
	}
	return nil
}

// findCycle runs a coloured depth-first search over depends_on edges and
// returns a key on the first back edge found.
func (p *Plan) findCycle() (string, bool) {
	edges := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		edges[t.Key] = t.DependsOn
	}

	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(edges))
	var visit func(key string) (string, bool)
	visit = func(key string) (string, bool) {
		colors[key] = 1
		for _, dep := range edges[key] {
			switch colors[dep] {
			case 1:
				return dep, true
			case 0:
				if k, ok := visit(dep); ok {
					return k, true
				}
			}
		}
		colors[key] = 2
		return "", false
	}

	for _, t := range p.Tasks {
		if colors[t.Key] == 0 {
			if k, ok := visit(t.Key); ok {
				return k, true
			}
		}
	}
	return "", false
}

// Order returns the tasks so that every task follows its dependencies,
// otherwise keeping file order. The plan must be valid.
func (p *Plan) Order() []Task {
	placed := make(map[string]bool, len(p.Tasks))
	out := make([]Task, 0, len(p.Tasks))
	for len(out) < len(p.Tasks) {
		progressed := false
		for _, t := range p.Tasks {
			if placed[t.Key] || !allPlaced(t.DependsOn, placed) {
				continue
			}
			placed[t.Key] = true
			out = append(out, t)
			progressed = true
			break
		}
		if !progressed {
			break
		}
	}
	return out
}

func allPlaced(deps []string, placed map[string]bool) bool {
	for _, d := range deps {
		if !placed[d] {
			return false
		}
	}
	return true
}
