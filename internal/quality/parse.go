package quality

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// Defaults applied when provider output omits a field.
const (
	DefaultCritiqueScore   = 0.7
	DefaultCritiqueSummary = "No major issues found."
	DefaultConfidence      = 0.5
)

var (
	critiqueMarkers = markerPattern("QUALITY_SCORE", "ISSUES", "SUMMARY")
	refineMarkers   = markerPattern("REFINED_RESPONSE", "IMPROVEMENTS")
	verifyMarkers   = markerPattern("IMPROVED", "CONFIDENCE", "RECOMMENDATION", "REASONING")

	// numberPattern matches "0.8", "8/10" or "80%".
	numberPattern = regexp.MustCompile(`([-+]?\d+(?:\.\d+)?)\s*(?:/\s*(\d+(?:\.\d+)?)|(%))?`)
	// bulletPattern matches "- text", "* text" and "1. text" list lines.
	bulletPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
	// issueTagPattern matches a leading "[category|severity]" tag.
	issueTagPattern = regexp.MustCompile(`^\[([^\]|]*)(?:\|([^\]]*))?\]\s*(.*)$`)
	fixPattern      = regexp.MustCompile(`(?i)\s*\|?\s*\bFIX\s*:\s*`)
)

// ParsedCritique is a critique plus which fields the provider actually supplied.
type ParsedCritique struct {
	models.Critique
	ScorePresent   bool
	IssuesPresent  bool
	SummaryPresent bool
}

// Refinement is a parsed refine response.
type Refinement struct {
	Response        string
	Summary         string
	ResponsePresent bool
	SummaryPresent  bool
}

// ParsedVerification is a verification plus which fields were supplied.
type ParsedVerification struct {
	models.Verification
	ImprovedPresent       bool
	ConfidencePresent     bool
	RecommendationPresent bool
}

// ParseCritique extracts a critique from provider output. Missing fields
// take their defaults; it never fails.
func ParseCritique(text string) ParsedCritique {
	p := ParsedCritique{Critique: models.Critique{
		QualityScore: DefaultCritiqueScore,
		Summary:      DefaultCritiqueSummary,
	}}
	sections := splitSections(text, critiqueMarkers)

	if raw, ok := sections["QUALITY_SCORE"]; ok {
		if v, ok := parseUnit(raw); ok {
			p.QualityScore = v
			p.ScorePresent = true
		}
	}
	if raw, ok := sections["ISSUES"]; ok {
		p.IssuesPresent = true
		p.Issues = parseIssues(raw)
	}
	if raw := sections["SUMMARY"]; raw != "" {
		p.Summary = raw
		p.SummaryPresent = true
	}
	return p
}

// ParseRefinement extracts a refined response. Without a REFINED_RESPONSE
// marker the whole output is the response, and a missing summary is
// synthesized from the critique's issue count.
func ParseRefinement(text string, c models.Critique) Refinement {
	var r Refinement
	respStart, impStart, impEnd := -1, -1, -1
	for _, loc := range refineMarkers.FindAllStringSubmatchIndex(text, -1) {
		switch markerName(text[loc[2]:loc[3]]) {
		case "REFINED_RESPONSE":
			if respStart < 0 {
				respStart = loc[1]
			}
		case "IMPROVEMENTS":
			// The last marker wins so a response may contain its own heading.
			impStart, impEnd = loc[0], loc[1]
		}
	}

	if impStart >= 0 && impStart >= respStart {
		r.Summary = strings.TrimSpace(text[impEnd:])
		r.SummaryPresent = r.Summary != ""
	}

	switch {
	case respStart >= 0:
		end := len(text)
		if impStart > respStart {
			end = impStart
		}
		r.Response = strings.TrimSpace(text[respStart:end])
		r.ResponsePresent = r.Response != ""
	case impStart > 0:
		r.Response = strings.TrimSpace(text[:impStart])
	}
	if r.Response == "" {
		r.Response = strings.TrimSpace(text)
		r.ResponsePresent = false
	}

	if !r.SummaryPresent {
		r.Summary = synthesizeSummary(c)
	}
	return r
}

// ParseVerification extracts a verification verdict. Improved defaults to
// false, confidence to 0.5 and the recommendation to uncertain.
func ParseVerification(text string) ParsedVerification {
	p := ParsedVerification{Verification: models.Verification{
		Confidence:     DefaultConfidence,
		Recommendation: models.RecommendUncertain,
	}}
	sections := splitSections(text, verifyMarkers)

	if raw, ok := sections["IMPROVED"]; ok {
		switch firstWord(raw) {
		case "yes", "y", "true", "improved":
			p.Improved, p.ImprovedPresent = true, true
		case "no", "n", "false":
			p.Improved, p.ImprovedPresent = false, true
		}
	}
	if raw, ok := sections["CONFIDENCE"]; ok {
		if v, ok := parseUnit(raw); ok {
			p.Confidence = v
			p.ConfidencePresent = true
		}
	}
	if raw, ok := sections["RECOMMENDATION"]; ok {
		if rec := models.Recommendation(firstWord(raw)); rec.Valid() {
			p.Recommendation = rec
			p.RecommendationPresent = true
		}
	}
	p.Reasoning = sections["REASONING"]
	return p
}

func markerPattern(names ...string) *regexp.Regexp {
	alts := make([]string, len(names))
	for i, n := range names {
		alts[i] = strings.ReplaceAll(n, "_", "[ _]")
	}
	// Tolerates markdown decoration such as "**SUMMARY:**" or "## Summary:".
	return regexp.MustCompile(`(?im)^[ \t>*#]*(` + strings.Join(alts, "|") + `)\**[ \t]*:\**[ \t]*`)
}

func markerName(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, " ", "_"))
}

// splitSections maps each marker to the text up to the next marker.
// The first occurrence of a marker wins.
func splitSections(text string, pattern *regexp.Regexp) map[string]string {
	out := make(map[string]string)
	locs := pattern.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		name := markerName(text[loc[2]:loc[3]])
		if _, seen := out[name]; !seen {
			out[name] = strings.TrimSpace(text[loc[1]:end])
		}
	}
	return out
}

// parseUnit reads a score into [0,1]. Values on a 10 or 100 point scale are rescaled.
func parseUnit(raw string) (float64, bool) {
	m := numberPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch {
	case m[2] != "":
		denom, err := strconv.ParseFloat(m[2], 64)
		if err != nil || denom == 0 {
			return 0, false
		}
		v /= denom
	case m[3] != "":
		v /= 100
	case v > 10:
		v /= 100
	case v > 1:
		v /= 10
	}
	return min(max(v, 0), 1), true
}

func parseIssues(raw string) []models.Issue {
	var issues []models.Issue
	for _, line := range strings.Split(raw, "\n") {
		m := bulletPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if issue, ok := parseIssue(strings.TrimSpace(m[1])); ok {
			issues = append(issues, issue)
		}
	}
	return issues
}

func parseIssue(s string) (models.Issue, bool) {
	issue := models.Issue{Category: models.CategoryQuality, Severity: models.SeverityMedium}
	if m := issueTagPattern.FindStringSubmatch(s); m != nil {
		if c := normalizeCategory(m[1]); c.Valid() {
			issue.Category = c
		}
		if sev := models.Severity(strings.ToLower(strings.TrimSpace(m[2]))); sev.Valid() {
			issue.Severity = sev
		}
		s = m[3]
	}

	parts := fixPattern.Split(s, 2)
	issue.Description = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		issue.SuggestedFix = strings.TrimSpace(parts[1])
	}

	switch strings.ToLower(strings.TrimRight(issue.Description, ".")) {
	case "", "none", "n/a", "no issues":
		return models.Issue{}, false
	}
	return issue, true
}

func normalizeCategory(s string) models.IssueCategory {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
	return models.IssueCategory(s)
}

func firstWord(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,;:!*\"'`")
}

func synthesizeSummary(c models.Critique) string {
	if len(c.Issues) == 0 {
		return "Refined the response based on the critique"
	}
	return fmt.Sprintf("Addressed %d issue(s) from the critique", len(c.Issues))
}
