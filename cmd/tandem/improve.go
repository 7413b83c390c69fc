package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tandem/internal/quality"
	"github.com/ShayCichocki/tandem/internal/runtime"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var (
	improvePromptFile   string
	improveResponseFile string
	improveContextFile  string
	improveTier         string
)

var improveCmd = &cobra.Command{
	Use:   "improve",
	Short: "Run the quality loop once on a response",
	Long: `Critique, refine and verify a response to a prompt using the
configured provider of a tier, then print the final response.`,
	Args: cobra.NoArgs,
	RunE: runImprove,
}

func init() {
	improveCmd.Flags().StringVar(&improvePromptFile, "prompt", "", "File holding the prompt")
	improveCmd.Flags().StringVar(&improveResponseFile, "response", "", "File holding the response to improve")
	improveCmd.Flags().StringVar(&improveContextFile, "context", "", "Optional file with extra context")
	improveCmd.Flags().StringVar(&improveTier, "tier", string(models.TierLocal), "Tier whose provider runs the loop (local or escalation)")
	_ = improveCmd.MarkFlagRequired("prompt")
	_ = improveCmd.MarkFlagRequired("response")
}

func readText(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func runImprove(cmd *cobra.Command, args []string) error {
	prompt, err := readText(improvePromptFile)
	if err != nil {
		return err
	}
	response, err := readText(improveResponseFile)
	if err != nil {
		return err
	}
	extra, err := readText(improveContextFile)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := runtime.Build(cmd.Context(), cfg, runtime.Options{NoState: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	exec := rt.Local
	if models.Tier(improveTier) == models.TierEscalation {
		exec = rt.Escalation
	}
	qp := rt.Policy.Quality
	qp.Enabled = true
	loop := quality.New(exec.Provider(), qp, quality.WithLogger(rt.Logger))

	res, err := loop.Improve(cmd.Context(), prompt, response, extra)
	if err != nil {
		return err
	}

	for i, c := range res.Critiques {
		fmt.Printf("%s iteration %d: score %.2f, %d issue(s)\n", color.CyanString("•"), i+1, c.QualityScore, len(c.Issues))
	}
	for _, s := range res.Improvements {
		printStatus("✓", s, color.FgGreen)
	}
	sym, attr := "✓", color.FgGreen
	if !res.Success {
		sym, attr = "⚠", color.FgYellow
	}
	printStatus(sym, fmt.Sprintf("quality %.2f after %d iteration(s)", res.QualityScore, res.Iterations), attr)
	fmt.Println()
	fmt.Println(res.FinalResponse)
	return nil
}
