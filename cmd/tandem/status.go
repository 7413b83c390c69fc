package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/state"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var statusStatePath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted queue progress and escalation metrics",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusStatePath, "state", "", "State database path (default .tandem/state.db)")
}

// statePath resolves the database path from a flag, the config, then the default.
func statePath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if cfg, err := loadConfig(); err == nil && cfg.State.Path != "" {
		return cfg.State.Path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return state.DefaultPath(cwd), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	path, err := statePath(statusStatePath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No state yet. Run 'tandem run <plan.yaml>' to start.")
		return nil
	}

	db, err := state.OpenShared(path)
	if errors.Is(err, state.ErrLocked) {
		printStatus("⚠", "A run is in progress; try again when it finishes.", color.FgYellow)
		return nil
	}
	if err != nil {
		return err
	}
	defer db.Close()

	items, err := db.LoadTasks()
	if err != nil {
		return err
	}
	metrics, _, err := db.LoadMetrics()
	if err != nil {
		return err
	}

	var progress models.TaskProgress
	for _, item := range items {
		progress.Add(item.Status)
		switch item.Status {
		case models.TaskStatusFailed:
			printStatus("✗", item.Description+": "+item.Error, color.FgRed)
		case models.TaskStatusInProgress:
			printStatus("…", item.Description, color.FgYellow)
		case models.TaskStatusPending:
			printStatus("•", item.Description, color.FgWhite)
		}
	}
	fmt.Println(summaryBox("Status", progress, metrics))
	return nil
}
