package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/tandem/internal/coordinator"
	"github.com/ShayCichocki/tandem/pkg/models"
)

var boxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("240")).
	Padding(0, 1)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// printResult prints one line per finished task.
func printResult(item models.TaskItem, res *coordinator.Result) {
	tier := color.GreenString(string(res.Tier))
	if res.Escalated {
		tier = color.YellowString(string(res.Tier))
	}
	line := fmt.Sprintf("%s [%s] %s", item.ID[:min(8, len(item.ID))], tier, item.Description)
	if res.QualityScore != nil {
		line += fmt.Sprintf(" (quality %.2f)", *res.QualityScore)
	}
	if res.Escalated {
		line += " - " + res.Reason
	}

	if res.Success {
		printStatus("✓", line, color.FgGreen)
		return
	}
	printStatus("✗", line, color.FgRed)
	fmt.Printf("    %s\n", color.RedString(res.ErrorMessage()))
}

// summaryBox renders queue progress and escalation metrics.
func summaryBox(title string, p models.TaskProgress, m models.MetricsSnapshot) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Tasks       %d total, %d completed, %d failed, %d pending (%.0f%% done)\n",
		p.Total, p.Completed, p.Failed, p.Pending+p.InProgress, p.Percent())
	fmt.Fprintf(&b, "Executions  %d, escalations %d (%.1f%%)\n",
		m.TotalExecutions, m.Escalations, m.EscalationRate*100)
	fmt.Fprintf(&b, "Local       %d ok, %d failed, avg %s\n",
		m.LocalSuccesses, m.LocalFailures, formatMs(m.AvgLocalLatencyMs))
	fmt.Fprintf(&b, "Escalation  avg %s", formatMs(m.AvgEscalationLatencyMs))
	if !m.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "\nUpdated     %s", m.UpdatedAt.Local().Format(time.DateTime))
	}
	return boxStyle.Render(b.String())
}

func formatMs(ms float64) string {
	return (time.Duration(ms * float64(time.Millisecond))).Round(time.Millisecond).String()
}
