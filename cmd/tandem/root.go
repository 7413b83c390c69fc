package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Two-tier task orchestration with escalation",
	Long: `Tandem runs task plans on a cheap local model and escalates to a
stronger model when the local tier is too slow, keeps failing, produces
low-quality output, or the task is marked complex.

Core capabilities:
- Dependency-aware todo queue
- Critique, refine and verify loop on generated output
- Escalation decisions with persisted metrics
- Sub-agent delegation`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config plus .tandem.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(improveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig honours --config, falling back to the layered lookup.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}
