package coordinator

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// TaskQueue is the part of todo.Queue the drain loop needs.
type TaskQueue interface {
	Next() (models.TaskItem, bool)
	Start(id string) error
	Complete(id string) error
	Fail(id, reason string) error
	Blocked() []models.TaskItem
}

// DrainSummary reports a finished drain.
type DrainSummary struct {
	// Results are in execution order.
	Results []*Result
	// Blocked are pending tasks that can no longer become eligible.
	Blocked []models.TaskItem
}

// Succeeded counts successful results.
func (s *DrainSummary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// Escalated counts escalated results.
func (s *DrainSummary) Escalated() int {
	n := 0
	for _, r := range s.Results {
		if r.Escalated {
			n++
		}
	}
	return n
}

// Drain executes eligible tasks one at a time until the queue has none left.
// build turns a queue item into a request; onResult, if set, sees each
// task with its result after the queue is updated. A cancelled context
// stops the drain between tasks and is returned with the partial summary.
func (c *Coordinator) Drain(ctx context.Context, q TaskQueue, build func(models.TaskItem) Request, onResult func(models.TaskItem, *Result)) (*DrainSummary, error) {
	summary := &DrainSummary{}

	for {
		if err := ctx.Err(); err != nil {
			summary.Blocked = q.Blocked()
			return summary, err
		}

		item, ok := q.Next()
		if !ok {
			break
		}
		if err := q.Start(item.ID); err != nil {
			summary.Blocked = q.Blocked()
			return summary, fmt.Errorf("start task %s: %w", item.ID, err)
		}

		req := build(item)
		req.TaskID = item.ID
		res := c.Execute(ctx, req)
		summary.Results = append(summary.Results, res)

		var err error
		if res.Success {
			err = q.Complete(item.ID)
		} else {
			err = q.Fail(item.ID, res.ErrorMessage())
		}
		if err != nil {
			summary.Blocked = q.Blocked()
			return summary, fmt.Errorf("finish task %s: %w", item.ID, err)
		}

		if onResult != nil {
			onResult(item, res)
		}
	}

	summary.Blocked = q.Blocked()
	return summary, nil
}
