// Package runtime builds the tandem component graph once per process and
// hands it to callers explicitly.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/coordinator"
	"github.com/ShayCichocki/tandem/internal/delegate"
	"github.com/ShayCichocki/tandem/internal/escalation"
	"github.com/ShayCichocki/tandem/internal/logging"
	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/internal/provider"
	"github.com/ShayCichocki/tandem/internal/quality"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/internal/telemetry"
	"github.com/ShayCichocki/tandem/internal/tier"
	"github.com/ShayCichocki/tandem/internal/todo"
	"github.com/ShayCichocki/tandem/internal/validation"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// Options override parts of the graph Build would otherwise derive from config.
type Options struct {
	// Root is the project directory for the default state and log paths.
	// Empty means the working directory.
	Root string
	// StatePath overrides config state.path.
	StatePath string
	// NoState runs without persistence.
	NoState bool
	// Logger replaces the configured log file.
	Logger *slog.Logger
	// Local and Escalation replace the configured providers.
	Local      provider.Provider
	Escalation provider.Provider
	// Workflows runs sub-agent workflows. Nil means workflows are sent to
	// the local provider as prompts.
	Workflows delegate.WorkflowExecutor
	// MeterProvider replaces telemetry setup.
	MeterProvider metric.MeterProvider
}

// Runtime is the wired component graph.
type Runtime struct {
	Config   *config.Config
	Policy   *policy.Config
	Logger   *slog.Logger
	Tokens   *provider.TokenTracker
	Queue    *todo.Queue
	Tracker  *delegate.Tracker
	Escalate *escalation.Policy
	// Loops holds the quality loop of each tier that refines its output.
	Loops       map[models.Tier]*quality.Loop
	Local       *tier.Executor
	Escalation  *tier.Executor
	Validator   *validation.CritiqueValidator
	Coordinator *coordinator.Coordinator
	Store       *state.DB
	Recorder    *telemetry.Recorder

	// Interrupted is set when the store held tasks left in progress by a
	// previous run. They were put back to pending.
	Interrupted *state.InterruptedRun

	// plans holds the complexity and steps of queued tasks by ID.
	plansMu sync.Mutex
	plans   map[string]state.TaskPlan

	closers []func() error
}

// Build wires every component from cfg. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config, opts Options) (rt *Runtime, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	root := opts.Root
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}

	rt = &Runtime{
		Config: cfg,
		Policy: cfg.Policy(),
		Tokens: provider.NewTokenTracker(),
		Loops:  make(map[models.Tier]*quality.Loop),
		plans:  make(map[string]state.TaskPlan),
	}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	rt.Logger = opts.Logger
	if rt.Logger == nil {
		l, err := newLogger(root, cfg.Log)
		if err != nil {
			return rt, err
		}
		rt.Logger = l.Logger
		rt.closers = append(rt.closers, l.Close)
	}

	local, err := rt.provider(ctx, models.TierLocal, cfg.Local, opts.Local)
	if err != nil {
		return rt, err
	}
	esc, err := rt.provider(ctx, models.TierEscalation, cfg.Escalation, opts.Escalation)
	if err != nil {
		return rt, err
	}

	workflows := opts.Workflows
	if workflows == nil {
		workflows = PromptWorkflows(local, generateOptions(cfg.Local))
	}
	rt.Queue = todo.New(rt.Policy.Queue, todo.WithLogger(rt.Logger))
	rt.Tracker = delegate.New(rt.Policy.Delegation,
		delegate.WithWorkflows(workflows),
		delegate.WithLogger(rt.Logger),
	)
	rt.Escalate = escalation.New(rt.Policy.Escalation, escalation.WithLogger(rt.Logger))

	rt.Local = rt.tierExecutor(models.TierLocal, local, cfg.Local)
	rt.Escalation = rt.tierExecutor(models.TierEscalation, esc, cfg.Escalation)

	copts := []coordinator.Option{coordinator.WithLogger(rt.Logger)}
	if cfg.Quality.Validate {
		critic := quality.New(local, rt.Policy.Quality,
			quality.WithLogger(rt.Logger),
			quality.WithGenerateOptions(generateOptions(cfg.Local)),
		)
		rt.Validator = validation.NewCritiqueValidator(critic, rt.Policy.Quality.ValidationFloor)
		copts = append(copts, coordinator.WithValidator(rt.Validator))
	}

	if err := rt.setupTelemetry(ctx, cfg.Telemetry, opts.MeterProvider); err != nil {
		return rt, err
	}
	copts = append(copts, coordinator.WithObserver(rt.Recorder.Observe))

	if !opts.NoState {
		path := opts.StatePath
		if path == "" {
			path = cfg.State.Path
		}
		if path == "" {
			path = state.DefaultPath(root)
		}
		if err := rt.openState(path); err != nil {
			return rt, err
		}
		copts = append(copts, coordinator.WithObserver(rt.persistAttempt))
	}

	rt.Coordinator, err = coordinator.New(rt.Local, rt.Escalation, rt.Escalate, copts...)
	if err != nil {
		return rt, err
	}
	return rt, nil
}

func newLogger(root string, cfg config.LogConfig) (*logging.Logger, error) {
	opts := logging.Options{Path: cfg.Path, Level: cfg.Level, Format: cfg.Format}
	if opts.Path == "" {
		return logging.ForRepo(root, opts), nil
	}
	return logging.New(opts)
}

func (rt *Runtime) provider(ctx context.Context, t models.Tier, cfg config.ProviderConfig, override provider.Provider) (provider.Provider, error) {
	if override != nil {
		return override, nil
	}
	p, closeFn, err := provider.New(ctx, cfg, provider.Stack{
		Cache:   rt.Config.Cache,
		Retry:   rt.Config.Retry,
		Breaker: rt.Config.Breaker,
		Tracker: rt.Tokens,
		Logger:  rt.Logger,
	})
	rt.closers = append(rt.closers, func() error { closeFn(); return nil })
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", t, err)
	}
	rt.Logger.Info("provider ready", "tier", t, "provider", p.Name())
	return p, nil
}

func generateOptions(cfg config.ProviderConfig) provider.Options {
	return provider.Options{
		MaxTokens:   cfg.MaxTokens,
		Temperature: provider.Float(cfg.Temperature),
	}
}

func (rt *Runtime) tierExecutor(t models.Tier, p provider.Provider, cfg config.ProviderConfig) *tier.Executor {
	opts := []tier.Option{
		tier.WithGenerateOptions(generateOptions(cfg)),
		tier.WithLogger(rt.Logger),
		tier.WithProgress(func(u tier.ProgressUpdate) {
			rt.Logger.Debug("tier progress", "tier", u.Tier, "step", u.Step, "of", u.TotalSteps, "tokens", u.TokensUsed)
		}),
	}
	if rt.Config.Quality.RefinesTier(string(t)) {
		loop := quality.New(p, rt.Policy.Quality,
			quality.WithLogger(rt.Logger),
			quality.WithGenerateOptions(generateOptions(cfg)),
		)
		rt.Loops[t] = loop
		opts = append(opts, tier.WithQualityLoop(loop))
	}
	return tier.New(t, p, opts...)
}

func (rt *Runtime) setupTelemetry(ctx context.Context, cfg config.TelemetryConfig, mp metric.MeterProvider) error {
	if mp == nil {
		var (
			shutdown telemetry.ShutdownFunc
			err      error
		)
		mp, shutdown, err = telemetry.Setup(ctx, cfg)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() error { return shutdown(context.Background()) })
	}
	rec, err := telemetry.NewRecorder(mp)
	if err != nil {
		return fmt.Errorf("create telemetry recorder: %w", err)
	}
	rt.Recorder = rec
	return nil
}

// openState opens the store, resumes interrupted tasks and restores the
// queue, metrics and attempt history.
func (rt *Runtime) openState(path string) error {
	db, err := state.Open(path)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	rt.Store = db
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state: %w", err)
	}

	rm := state.NewRecoveryManager(db)
	run, err := rm.CheckForInterrupted()
	if err != nil {
		return err
	}
	if run != nil {
		rt.Interrupted = run
		if _, err := rm.Resume(); err != nil {
			return err
		}
		rt.Logger.Warn("resumed interrupted tasks", "tasks", run.TaskIDs, "last_activity", run.LastActivity)
	}

	qs, err := db.LoadQueue()
	if err != nil {
		return err
	}
	if err := rt.Queue.Restore(qs.Items, qs.Retired...); err != nil {
		return err
	}
	rt.plans = qs.Plans

	snapshot, ok, err := db.LoadMetrics()
	if err != nil {
		return err
	}
	if ok {
		history, err := db.RecentAttemptsByTask(rt.Policy.Escalation.HistorySize)
		if err != nil {
			return err
		}
		rt.Escalate.Restore(snapshot, history)
	}
	rt.Logger.Info("state restored", "path", path, "tasks", len(qs.Items), "executions", snapshot.TotalExecutions)
	return nil
}

// persistAttempt is a coordinator observer that stores the attempt just
// recorded by the policy along with the updated metrics.
func (rt *Runtime) persistAttempt(_ context.Context, req coordinator.Request, _ *coordinator.Result) {
	history := rt.Escalate.History(req.TaskID)
	if len(history) > 0 {
		if err := rt.Store.AppendAttempt(req.TaskID, history[len(history)-1], rt.Policy.Escalation.HistorySize); err != nil {
			rt.Logger.Error("persist attempt failed", "task_id", req.TaskID, "error", err)
		}
	}
	if err := rt.Store.SaveMetrics(rt.Escalate.Metrics()); err != nil {
		rt.Logger.Error("persist metrics failed", "error", err)
	}
}

// SaveQueue writes the queue snapshot, its retired IDs and task plans to
// the store, if there is one. Plans of tasks no longer queued are dropped.
func (rt *Runtime) SaveQueue() error {
	items := rt.Queue.Snapshot()
	rt.plansMu.Lock()
	plans := make(map[string]state.TaskPlan, len(items))
	for _, item := range items {
		if p, ok := rt.plans[item.ID]; ok {
			plans[item.ID] = p
		}
	}
	rt.plans = plans
	rt.plansMu.Unlock()

	if rt.Store == nil {
		return nil
	}
	return rt.Store.SaveQueue(state.QueueState{
		Items:   items,
		Retired: rt.Queue.Retired(),
		Plans:   plans,
	})
}

// ClearCompleted removes completed tasks from the queue and saves it.
func (rt *Runtime) ClearCompleted() (int, error) {
	n := rt.Queue.ClearCompleted()
	if err := rt.SaveQueue(); err != nil {
		return n, fmt.Errorf("save queue: %w", err)
	}
	return n, nil
}

// ResetQueue empties the queue and saves it.
func (rt *Runtime) ResetQueue() error {
	rt.Queue.Reset()
	if err := rt.SaveQueue(); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

func (rt *Runtime) setPlans(reqs map[string]coordinator.Request) {
	rt.plansMu.Lock()
	defer rt.plansMu.Unlock()
	for id, req := range reqs {
		rt.plans[id] = state.TaskPlan{Complexity: req.Complexity, Steps: req.Steps}
	}
}

// request builds the coordinator request for a queued task from its stored
// plan. A task without one runs its description as a single simple step.
func (rt *Runtime) request(item models.TaskItem) coordinator.Request {
	rt.plansMu.Lock()
	p := rt.plans[item.ID]
	rt.plansMu.Unlock()

	req := coordinator.Request{
		TaskID:      item.ID,
		Description: item.Description,
		Steps:       p.Steps,
		Complexity:  p.Complexity,
	}
	if !req.Complexity.Valid() {
		req.Complexity = models.ComplexitySimple
	}
	if len(req.Steps) == 0 {
		req.Steps = []models.PlanStep{{Description: item.Description}}
	}
	return req
}

// ApplyConfig pushes reloaded thresholds and quality settings into the
// running policy and loops. Providers and persistence are not rebuilt.
func (rt *Runtime) ApplyConfig(cfg *config.Config) {
	pol := cfg.Policy()
	rt.Escalate.UpdateThresholds(pol.Escalation)
	for t, loop := range rt.Loops {
		loop.SetPolicy(pol.Quality)
		rt.Logger.Debug("quality policy updated", "tier", t)
	}
	rt.Logger.Info("config reloaded",
		"timeout_threshold", pol.Escalation.TimeoutThreshold,
		"max_retries", pol.Escalation.MaxRetries,
		"quality_threshold", pol.Quality.Threshold,
	)
}

// Close saves the queue and releases everything Build opened.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Store != nil {
		// A partially built runtime never restored the queue.
		if rt.Coordinator != nil {
			errs = append(errs, rt.SaveQueue())
		}
		errs = append(errs, rt.Store.Close())
		rt.Store = nil
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// PromptWorkflows runs each sub-agent workflow as a single generation on p.
func PromptWorkflows(p provider.Provider, opts provider.Options) delegate.WorkflowFunc {
	return func(ctx context.Context, workflowID string, params map[string]any) (any, error) {
		var b strings.Builder
		fmt.Fprintf(&b, "Run the workflow %q.\n", workflowID)
		if len(params) > 0 {
			b.WriteString("Parameters:\n")
			for _, k := range sortedKeys(params) {
				fmt.Fprintf(&b, "- %s: %v\n", k, params[k])
			}
		}
		g, err := p.Generate(ctx, b.String(), opts)
		if err != nil {
			return nil, err
		}
		return g.Text, nil
	}
}
