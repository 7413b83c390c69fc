package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/state"
)

var metricsStatePath string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Manage escalation metrics",
}

var metricsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the persisted escalation metrics",
	Long: `Clear the escalation counters and latency averages. Attempt history
and the task queue are kept. This is the only way metrics are reset.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := statePath(metricsStatePath)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("No state yet, nothing to reset.")
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
		if err := db.ResetMetrics(); err != nil {
			return err
		}
		printStatus("✓", "Escalation metrics reset", color.FgGreen)
		return nil
	},
}

func init() {
	metricsCmd.PersistentFlags().StringVar(&metricsStatePath, "state", "", "State database path (default .tandem/state.db)")
	metricsCmd.AddCommand(metricsResetCmd)
}
