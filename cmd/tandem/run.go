package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
	"github.com/ShayCichocki/tandem/internal/plan"
	"github.com/ShayCichocki/tandem/internal/runtime"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var (
	runWatchConfig bool
	runStatePath   string
	runNoState     bool
	runFresh       bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Run a task plan",
	Long: `Run every task of a YAML plan through the local tier, escalating
when the policy decides to. Sub-agents listed in the plan run first.

Queue state and escalation metrics are stored in .tandem/state.db so an
interrupted run resumes where it stopped. Completed tasks from earlier runs
are cleared first; pending ones run again alongside the plan.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	runCmd.Flags().BoolVar(&runWatchConfig, "watch-config", false, "Apply threshold changes from the config file while running")
	runCmd.Flags().StringVar(&runStatePath, "state", "", "State database path (default .tandem/state.db)")
	runCmd.Flags().BoolVar(&runNoState, "no-state", false, "Do not persist queue or metrics")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "Drop tasks left from earlier runs before adding the plan")
}

func runPlan(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.Build(ctx, cfg, runtime.Options{
		StatePath: runStatePath,
		NoState:   runNoState,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	if runFresh {
		if err := rt.ResetQueue(); err != nil {
			return err
		}
	} else if rt.Interrupted != nil {
		printStatus("⚠", fmt.Sprintf("Resuming %d interrupted task(s)", len(rt.Interrupted.TaskIDs)), color.FgYellow)
	}
	if runWatchConfig {
		watchConfig(rt)
	}

	summary, err := rt.RunPlan(ctx, p, printResult)
	if summary != nil {
		for _, s := range summary.SubAgents {
			printStatus("•", fmt.Sprintf("sub-agent %s: %s", s.Name, s.Status), color.FgCyan)
		}
		if summary.Drain != nil {
			for _, b := range summary.Drain.Blocked {
				printStatus("⚠", "blocked: "+b.Description, color.FgYellow)
			}
		}
		fmt.Println(summaryBox("Run summary", summary.Progress, summary.Metrics))
	}
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if errors.Is(err, models.ErrCapacityExceeded) {
			printStatus("⚠", "Queue is full; run 'tandem queue clear' or 'tandem run --fresh'", color.FgYellow)
		}
		return err
	}
	return nil
}

// watchConfig reloads the config file into the running runtime.
func watchConfig(rt *runtime.Runtime) {
	path := configPath
	if path == "" {
		path = config.GetProjectConfigPath()
	}
	if path == "" {
		printStatus("⚠", "--watch-config: no config file to watch", color.FgYellow)
		return
	}

	_, err := config.Watch(path, func(cfg *config.Config, err error) {
		if err != nil {
			rt.Logger.Warn("config reload failed", "error", err)
			return
		}
		rt.ApplyConfig(cfg)
	})
	if err != nil {
		printStatus("⚠", fmt.Sprintf("--watch-config: %v", err), color.FgYellow)
		return
	}
	printStatus("•", "Watching "+path, color.FgCyan)
}
