package runtime

import (
	"context"
	"fmt"
	"sort"

	"github.com/ShayCichocki/tandem/internal/coordinator"
	"github.com/ShayCichocki/tandem/internal/plan"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// RunSummary reports a finished plan run.
type RunSummary struct {
	Drain     *coordinator.DrainSummary
	SubAgents []models.SubAgentTask
	Progress  models.TaskProgress
	Metrics   models.MetricsSnapshot
}

// RunPlan clears completed tasks left by earlier runs, adds p to the queue,
// runs its sub-agents, then drains the queue through the coordinator.
// Pending tasks from earlier runs are drained too. The queue is saved after
// every task. onResult may be nil.
func (rt *Runtime) RunPlan(ctx context.Context, p *plan.Plan, onResult func(models.TaskItem, *coordinator.Result)) (*RunSummary, error) {
	cleared, err := rt.ClearCompleted()
	if err != nil {
		return nil, err
	}
	if cleared > 0 {
		rt.Logger.Info("cleared completed tasks", "count", cleared)
	}
	if free := rt.Queue.Cap() - rt.Queue.Len(); len(p.Tasks) > free {
		return nil, fmt.Errorf("apply plan: %w: plan has %d tasks, queue has room for %d",
			models.ErrCapacityExceeded, len(p.Tasks), max(free, 0))
	}

	applied, err := p.Apply(rt.Queue, rt.Tracker)
	if applied != nil {
		rt.setPlans(applied.Requests)
	}
	if err != nil {
		return nil, fmt.Errorf("apply plan: %w", err)
	}
	if err := rt.SaveQueue(); err != nil {
		return nil, fmt.Errorf("save queue: %w", err)
	}

	summary := &RunSummary{}
	if len(applied.SubAgents) > 0 {
		subs, err := rt.Tracker.ExecuteAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("run sub-agents: %w", err)
		}
		summary.SubAgents = subs
	}

	drain, err := rt.Coordinator.Drain(ctx, savingQueue{rt}, rt.request, func(item models.TaskItem, res *coordinator.Result) {
		if err := rt.SaveQueue(); err != nil {
			rt.Logger.Error("save queue failed", "task_id", item.ID, "error", err)
		}
		if onResult != nil {
			onResult(item, res)
		}
	})
	summary.Drain = drain
	summary.Progress = rt.Queue.Progress()
	summary.Metrics = rt.Escalate.Metrics()
	if err != nil {
		return summary, err
	}

	rt.Logger.Info("plan finished",
		"tasks", len(drain.Results),
		"succeeded", drain.Succeeded(),
		"escalated", drain.Escalated(),
		"blocked", len(drain.Blocked),
	)
	return summary, nil
}

// savingQueue persists the queue as soon as a task starts, so a crash
// mid-task leaves it in progress for the next run to resume.
type savingQueue struct {
	rt *Runtime
}

func (q savingQueue) Next() (models.TaskItem, bool) { return q.rt.Queue.Next() }
func (q savingQueue) Complete(id string) error      { return q.rt.Queue.Complete(id) }
func (q savingQueue) Fail(id, reason string) error  { return q.rt.Queue.Fail(id, reason) }
func (q savingQueue) Blocked() []models.TaskItem    { return q.rt.Queue.Blocked() }

func (q savingQueue) Start(id string) error {
	if err := q.rt.Queue.Start(id); err != nil {
		return err
	}
	if err := q.rt.SaveQueue(); err != nil {
		q.rt.Logger.Error("save queue failed", "task_id", id, "error", err)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
