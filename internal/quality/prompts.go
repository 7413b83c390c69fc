package quality

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// critiquePrompt asks the provider to score a response against its prompt.
func critiquePrompt(prompt, response, extra string) string {
	var b strings.Builder
	b.WriteString("Critique the response below. Be strict and specific.\n\n")
	writeSection(&b, "ORIGINAL PROMPT", prompt)
	writeSection(&b, "CONTEXT", extra)
	writeSection(&b, "RESPONSE", response)
	b.WriteString(`Answer in exactly this format:

QUALITY_SCORE: <number between 0.0 and 1.0>
ISSUES:
- [<correctness|completeness|clarity|quality|best-practices>|<low|medium|high>] <description> | FIX: <suggested fix>
SUMMARY: <one paragraph>

List no issues under ISSUES if there are none.`)
	return b.String()
}

// refinePrompt asks the provider to rewrite a response using a critique.
func refinePrompt(prompt, response, extra string, c models.Critique) string {
	var b strings.Builder
	b.WriteString("Improve the response below so it addresses every issue in the critique.\n\n")
	writeSection(&b, "ORIGINAL PROMPT", prompt)
	writeSection(&b, "CONTEXT", extra)
	writeSection(&b, "RESPONSE", response)
	writeSection(&b, "CRITIQUE", formatCritique(c))
	b.WriteString(`Answer in exactly this format:

REFINED_RESPONSE:
<the complete improved response>
IMPROVEMENTS: <short summary of what changed>`)
	return b.String()
}

// verifyPrompt asks the provider whether a refinement beats the original.
func verifyPrompt(prompt, original, refined string, c models.Critique) string {
	var b strings.Builder
	b.WriteString("Compare the original and refined responses. Decide whether the refinement is a real improvement.\n\n")
	writeSection(&b, "ORIGINAL PROMPT", prompt)
	writeSection(&b, "CRITIQUE", formatCritique(c))
	writeSection(&b, "ORIGINAL RESPONSE", original)
	writeSection(&b, "REFINED RESPONSE", refined)
	b.WriteString(`Answer in exactly this format:

IMPROVED: <yes|no>
CONFIDENCE: <number between 0.0 and 1.0>
RECOMMENDATION: <accept|reject|uncertain>
REASONING: <one paragraph>`)
	return b.String()
}

func writeSection(b *strings.Builder, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(b, "=== %s ===\n%s\n\n", title, body)
}

func formatCritique(c models.Critique) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score: %.2f\n", c.QualityScore)
	for _, issue := range c.Issues {
		fmt.Fprintf(&b, "- [%s|%s] %s", issue.Category, issue.Severity, issue.Description)
		if issue.SuggestedFix != "" {
			fmt.Fprintf(&b, " | FIX: %s", issue.SuggestedFix)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Summary: %s", c.Summary)
	return b.String()
}
