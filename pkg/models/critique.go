package models

// IssueCategory classifies a critique issue.
type IssueCategory string

const (
	CategoryCorrectness   IssueCategory = "correctness"
	CategoryCompleteness  IssueCategory = "completeness"
	CategoryClarity       IssueCategory = "clarity"
	CategoryQuality       IssueCategory = "quality"
	CategoryBestPractices IssueCategory = "best-practices"
)

// Valid returns true if the category is a known value.
func (c IssueCategory) Valid() bool {
	switch c {
	case CategoryCorrectness, CategoryCompleteness, CategoryClarity, CategoryQuality, CategoryBestPractices:
		return true
	default:
		return false
	}
}

// Severity is how serious a critique issue is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// Issue is a single problem found during critique.
type Issue struct {
	Category     IssueCategory `json:"category"`
	Severity     Severity      `json:"severity"`
	Description  string        `json:"description"`
	SuggestedFix string        `json:"suggested_fix,omitempty"`
}

// Critique is the assessment of one response.
type Critique struct {
	// QualityScore is in [0.0, 1.0].
	QualityScore float64 `json:"quality_score"`
	Issues       []Issue `json:"issues,omitempty"`
	Summary      string  `json:"summary"`
}

// CountBySeverity returns the number of issues with the given severity.
func (c Critique) CountBySeverity(s Severity) int {
	n := 0
	for _, issue := range c.Issues {
		if issue.Severity == s {
			n++
		}
	}
	return n
}

// Recommendation is a verifier's verdict on a refinement.
type Recommendation string

const (
	RecommendAccept    Recommendation = "accept"
	RecommendReject    Recommendation = "reject"
	RecommendUncertain Recommendation = "uncertain"
)

// Valid returns true if the recommendation is a known value.
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendAccept, RecommendReject, RecommendUncertain:
		return true
	default:
		return false
	}
}

// Verification compares an original response against a refinement.
type Verification struct {
	Improved       bool           `json:"improved"`
	Confidence     float64        `json:"confidence"`
	Recommendation Recommendation `json:"recommendation"`
	Reasoning      string         `json:"reasoning,omitempty"`
}

// ValidationResult is what a validation collaborator reports about a produced result.
type ValidationResult struct {
	QualityScore   float64  `json:"quality_score"`
	ShouldEscalate bool     `json:"should_escalate"`
	Issues         []string `json:"issues,omitempty"`
	Summary        string   `json:"summary,omitempty"`
}
