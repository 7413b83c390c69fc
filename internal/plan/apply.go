package plan

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/tandem/internal/coordinator"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// Queue is the part of todo.Queue Apply needs.
type Queue interface {
	Add(description string, priority models.Priority, deps ...string) (models.TaskItem, error)
}

// Tracker is the part of delegate.Tracker Apply needs.
type Tracker interface {
	Create(name, description, workflowID string, params map[string]any) (models.SubAgentTask, error)
}

// Applied maps a plan onto the ids assigned by the queue and tracker.
type Applied struct {
	// IDs maps task keys to queue ids.
	IDs map[string]string
	// Requests holds a coordinator request template per queue id.
	Requests  map[string]coordinator.Request
	SubAgents []models.SubAgentTask
}

// Request returns the request for a queue item, falling back to a
// single-step request built from the item itself.
func (a *Applied) Request(item models.TaskItem) coordinator.Request {
	if req, ok := a.Requests[item.ID]; ok {
		return req
	}
	return coordinator.Request{
		TaskID:      item.ID,
		Description: item.Description,
		Steps:       []models.PlanStep{{Description: item.Description}},
		Complexity:  models.ComplexitySimple,
	}
}

// Apply adds the plan's tasks to q in dependency order and registers its
// sub-agents with t. t may be nil when the plan has no sub-agents. On error
// the entries added so far stay in place.
func (p *Plan) Apply(q Queue, t Tracker) (*Applied, error) {
	out := &Applied{
		IDs:      make(map[string]string, len(p.Tasks)),
		Requests: make(map[string]coordinator.Request, len(p.Tasks)),
	}

	for _, task := range p.Order() {
		deps := make([]string, 0, len(task.DependsOn))
		for _, key := range task.DependsOn {
			deps = append(deps, out.IDs[key])
		}

		item, err := q.Add(task.Description, models.Priority(strings.ToLower(task.Priority)), deps...)
		if err != nil {
			return out, fmt.Errorf("add task %s: %w", task.Key, err)
		}
		out.IDs[task.Key] = item.ID

		steps := task.Steps
		if len(steps) == 0 {
			steps = []models.PlanStep{{Description: task.Description}}
		}
		out.Requests[item.ID] = coordinator.Request{
			TaskID:      item.ID,
			Description: task.Description,
			Steps:       steps,
			Complexity:  models.ParseComplexity(task.Complexity),
		}
	}

	if len(p.SubAgents) > 0 && t == nil {
		return out, fmt.Errorf("plan has %d sub-agents but no tracker", len(p.SubAgents))
	}
	for _, s := range p.SubAgents {
		sub, err := t.Create(s.Name, s.Description, s.Workflow, s.Params)
		if err != nil {
			return out, fmt.Errorf("create sub-agent %s: %w", s.Name, err)
		}
		out.SubAgents = append(out.SubAgents, sub)
	}
	return out, nil
}
