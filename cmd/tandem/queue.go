package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/internal/todo"
)

var queueStatePath string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the persisted task queue",
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove completed tasks from the queue",
	Long: `Remove completed tasks. Pending tasks that depended on them stay
runnable. Failed tasks and their dependents are kept; use 'queue reset'
to drop them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return withQueueState(func(db *state.DB) error {
			n, err := clearQueue(db, cfg.Policy().Queue)
			if err != nil {
				return err
			}
			printStatus("✓", fmt.Sprintf("Cleared %d completed task(s)", n), color.FgGreen)
			return nil
		})
	},
}

var queueResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every task from the queue",
	Long:  `Empty the queue. Escalation metrics and attempt history are kept.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueueState(func(db *state.DB) error {
			if err := db.SaveQueue(state.QueueState{}); err != nil {
				return err
			}
			printStatus("✓", "Task queue reset", color.FgGreen)
			return nil
		})
	},
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueStatePath, "state", "", "State database path (default .tandem/state.db)")
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(queueResetCmd)
}

func withQueueState(fn func(db *state.DB) error) error {
	path, err := statePath(queueStatePath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No state yet, the queue is empty.")
		return nil
	}

	db, err := state.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	return fn(db)
}

// clearQueue drops completed tasks from the stored queue, keeping the
// plans of the rest and the retired IDs they depend on.
func clearQueue(db *state.DB, p policy.QueuePolicy) (int, error) {
	qs, err := db.LoadQueue()
	if err != nil {
		return 0, err
	}
	p.MaxItems = max(p.MaxItems, len(qs.Items))
	q := todo.New(p)
	if err := q.Restore(qs.Items, qs.Retired...); err != nil {
		return 0, err
	}

	n := q.ClearCompleted()
	return n, db.SaveQueue(state.QueueState{
		Items:   q.Snapshot(),
		Retired: q.Retired(),
		Plans:   qs.Plans,
	})
}
