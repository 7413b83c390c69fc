package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/coordinator"
	"github.com/ShayCichocki/tandem/internal/plan"
	"github.com/ShayCichocki/tandem/internal/provider"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/pkg/models"
)

const goodCritique = "QUALITY_SCORE: 0.9\nISSUES:\n- none\nSUMMARY: Looks right."

func localProvider() provider.Func {
	return provider.Text(func(prompt string) string {
		if strings.HasPrefix(prompt, "Critique") {
			return goodCritique
		}
		return "local: done"
	})
}

func testOptions(root string) Options {
	return Options{
		Root:          root,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Local:         localProvider(),
		Escalation:    provider.Text(func(string) string { return "escalated: done" }),
		MeterProvider: noop.NewMeterProvider(),
	}
}

const testPlan = `
tasks:
  - key: a
    description: simple work
  - key: b
    description: hard work
    complexity: complex
    depends_on: [a]
subagents:
  - name: helper
    description: gather context
    workflow: collect
    params: {scope: repo}
`

func TestBuild_RunPlanAndRestore(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	rt, err := Build(ctx, config.Default(), testOptions(root))
	require.NoError(t, err)
	require.NotNil(t, rt.Store)
	assert.Contains(t, rt.Loops, models.TierLocal)
	assert.NotContains(t, rt.Loops, models.TierEscalation)
	require.NotNil(t, rt.Validator)

	p, err := plan.Parse([]byte(testPlan))
	require.NoError(t, err)

	var seen []string
	summary, err := rt.RunPlan(ctx, p, func(item models.TaskItem, res *coordinator.Result) {
		seen = append(seen, item.Description+"@"+string(res.Tier))
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"simple work@local", "hard work@escalation"}, seen)
	require.Len(t, summary.Drain.Results, 2)
	assert.Equal(t, "local: done", summary.Drain.Results[0].Output)
	require.NotNil(t, summary.Drain.Results[0].QualityScore)
	assert.InDelta(t, 0.9, *summary.Drain.Results[0].QualityScore, 1e-9)
	assert.True(t, summary.Drain.Results[1].Escalated)
	assert.Equal(t, "escalated: done", summary.Drain.Results[1].Output)
	assert.Empty(t, summary.Drain.Blocked)

	require.Len(t, summary.SubAgents, 1)
	assert.Equal(t, models.SubAgentStatusCompleted, summary.SubAgents[0].Status)
	assert.Equal(t, "local: done", summary.SubAgents[0].Result)

	assert.Equal(t, 2, summary.Progress.Completed)
	assert.Equal(t, int64(2), summary.Metrics.TotalExecutions)
	assert.Equal(t, int64(1), summary.Metrics.Escalations)

	firstID := summary.Drain.Results[0].TaskID
	require.NoError(t, rt.Close())

	again, err := Build(ctx, config.Default(), testOptions(root))
	require.NoError(t, err)
	defer again.Close()

	assert.Nil(t, again.Interrupted)
	assert.Len(t, again.Queue.Completed(), 2)
	assert.Equal(t, summary.Metrics.TotalExecutions, again.Escalate.Metrics().TotalExecutions)
	assert.Equal(t, summary.Metrics.Escalations, again.Escalate.Metrics().Escalations)
	assert.Len(t, again.Escalate.History(firstID), 1)
}

func TestBuild_StateLocked(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	rt, err := Build(ctx, config.Default(), testOptions(root))
	require.NoError(t, err)
	defer rt.Close()

	_, err = Build(ctx, config.Default(), testOptions(root))
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrLocked), "got %v", err)
}

func TestBuild_NoState(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.NoState = true

	cfg := config.Default()
	cfg.Quality.Validate = false
	cfg.Quality.Tiers = nil

	rt, err := Build(context.Background(), cfg, opts)
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Store)
	assert.Nil(t, rt.Validator)
	assert.Empty(t, rt.Loops)
	assert.NoError(t, rt.SaveQueue())

	res := rt.Coordinator.Execute(context.Background(), coordinator.Request{
		TaskID: "t1",
		Steps:  []models.PlanStep{{Description: "x"}},
	})
	assert.True(t, res.Success)
	assert.Nil(t, res.QualityScore)
}

func TestBuild_ResumesInterrupted(t *testing.T) {
	root := t.TempDir()

	db, err := state.Open(state.DefaultPath(root))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.SaveTasks([]models.TaskItem{{
		ID:          "stuck",
		Description: "was running",
		Status:      models.TaskStatusInProgress,
		Priority:    models.PriorityMedium,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}))
	require.NoError(t, db.Close())

	rt, err := Build(context.Background(), config.Default(), testOptions(root))
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Interrupted)
	assert.Equal(t, []string{"stuck"}, rt.Interrupted.TaskIDs)
	item, ok := rt.Queue.Get("stuck")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusPending, item.Status)
}

func TestBuild_ResumedTaskKeepsPlan(t *testing.T) {
	root := t.TempDir()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	db, err := state.Open(state.DefaultPath(root))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.SaveQueue(state.QueueState{
		Items: []models.TaskItem{{
			ID:          "stuck",
			Description: "was running",
			Status:      models.TaskStatusInProgress,
			Priority:    models.PriorityMedium,
			CreatedAt:   created,
		}},
		Plans: map[string]state.TaskPlan{
			"stuck": {Complexity: models.ComplexityComplex, Steps: []models.PlanStep{{Description: "hard step"}}},
		},
	}))
	require.NoError(t, db.Close())

	rt, err := Build(context.Background(), config.Default(), testOptions(root))
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.Interrupted)

	summary, err := rt.RunPlan(context.Background(), &plan.Plan{}, nil)
	require.NoError(t, err)
	require.Len(t, summary.Drain.Results, 1)
	res := summary.Drain.Results[0]
	assert.Equal(t, "stuck", res.TaskID)
	assert.True(t, res.Escalated, "a complex task stays complex after resuming")
	assert.Equal(t, models.TierEscalation, res.Tier)
}

func TestRunPlan_BackToBackRuns(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	p := &plan.Plan{}
	for i := 0; i < 60; i++ {
		p.Tasks = append(p.Tasks, plan.Task{Key: fmt.Sprintf("t%d", i), Description: fmt.Sprintf("task %d", i)})
	}

	for run := 1; run <= 2; run++ {
		rt, err := Build(ctx, config.Default(), testOptions(root))
		require.NoError(t, err)

		summary, err := rt.RunPlan(ctx, p, nil)
		require.NoError(t, err, "run %d", run)
		assert.Len(t, summary.Drain.Results, 60)
		assert.Equal(t, 60, rt.Queue.Len(), "completed tasks of earlier runs are cleared")
		require.NoError(t, rt.Close())
	}

	rt, err := Build(ctx, config.Default(), testOptions(root))
	require.NoError(t, err)
	defer rt.Close()
	assert.Len(t, rt.Queue.Completed(), 60)
}

func TestRunPlan_RejectsPlanLargerThanFreeCapacity(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Queue.MaxItems = 3
	rt, err := Build(ctx, cfg, testOptions(root))
	require.NoError(t, err)
	defer rt.Close()

	p := &plan.Plan{}
	for i := 0; i < 4; i++ {
		p.Tasks = append(p.Tasks, plan.Task{Key: fmt.Sprintf("t%d", i), Description: "x"})
	}
	_, err = rt.RunPlan(ctx, p, nil)
	require.ErrorIs(t, err, models.ErrCapacityExceeded)
	assert.Zero(t, rt.Queue.Len(), "nothing is added when the plan does not fit")
}

func TestRunPlan_RetiredDependencySurvivesRestart(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	db, err := state.Open(state.DefaultPath(root))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.SaveQueue(state.QueueState{
		Items: []models.TaskItem{
			{ID: "a", Description: "done", Status: models.TaskStatusCompleted, Priority: models.PriorityMedium, CreatedAt: created, CompletedAt: &created},
			{ID: "b", Description: "next", Status: models.TaskStatusPending, Priority: models.PriorityMedium, DependsOn: []string{"a"}, CreatedAt: created},
			{ID: "c", Description: "later", Status: models.TaskStatusPending, Priority: models.PriorityMedium, DependsOn: []string{"a"}, CreatedAt: created},
		},
	}))
	require.NoError(t, db.Close())

	rt, err := Build(ctx, config.Default(), testOptions(root))
	require.NoError(t, err)
	n, err := rt.ClearCompleted()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, rt.Close())

	rt, err = Build(ctx, config.Default(), testOptions(root))
	require.NoError(t, err)
	defer rt.Close()
	assert.Empty(t, rt.Queue.Blocked())

	summary, err := rt.RunPlan(ctx, &plan.Plan{}, nil)
	require.NoError(t, err)
	assert.Len(t, summary.Drain.Results, 2)
	assert.Empty(t, summary.Drain.Blocked)
}

func TestResetQueue(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	rt, err := Build(ctx, config.Default(), testOptions(root))
	require.NoError(t, err)
	_, err = rt.Queue.Add("left over", models.PriorityLow)
	require.NoError(t, err)
	require.NoError(t, rt.ResetQueue())
	require.NoError(t, rt.Close())

	rt, err = Build(ctx, config.Default(), testOptions(root))
	require.NoError(t, err)
	defer rt.Close()
	assert.Zero(t, rt.Queue.Len())
}

func TestBuild_StatePathOverride(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.StatePath = filepath.Join(t.TempDir(), "custom", "s.db")

	rt, err := Build(context.Background(), config.Default(), opts)
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, opts.StatePath, rt.Store.Path())
}

func TestApplyConfig(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.NoState = true
	rt, err := Build(context.Background(), config.Default(), opts)
	require.NoError(t, err)
	defer rt.Close()

	cfg := config.Default()
	cfg.EscalationPolicy.MaxRetries = 7
	cfg.Quality.Threshold = 0.95
	rt.ApplyConfig(cfg)

	assert.Equal(t, 7, rt.Escalate.Thresholds().MaxRetries)
	assert.InDelta(t, 0.95, rt.Loops[models.TierLocal].Policy().Threshold, 1e-9)
}

func TestPromptWorkflows(t *testing.T) {
	var got string
	p := provider.Text(func(prompt string) string {
		got = prompt
		return "ok"
	})

	out, err := PromptWorkflows(p, provider.Options{}).Execute(context.Background(), "collect", map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "Run the workflow \"collect\".\nParameters:\n- a: 1\n- b: 2\n", got)
}
