package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/tandem/pkg/models"
)

func TestParseCritique(t *testing.T) {
	text := `Here is my review.

QUALITY_SCORE: 0.65
ISSUES:
- [correctness|high] Off-by-one in the loop bound | FIX: use < instead of <=
- [best practices|low] Magic number
* [nonsense|urgent] Unknown tags fall back
- None
SUMMARY: Mostly fine
but the loop is wrong.`

	p := ParseCritique(text)
	assert.True(t, p.ScorePresent)
	assert.True(t, p.IssuesPresent)
	assert.True(t, p.SummaryPresent)
	assert.Equal(t, 0.65, p.QualityScore)
	assert.Equal(t, "Mostly fine\nbut the loop is wrong.", p.Summary)

	require.Len(t, p.Issues, 3)
	assert.Equal(t, models.Issue{
		Category:     models.CategoryCorrectness,
		Severity:     models.SeverityHigh,
		Description:  "Off-by-one in the loop bound",
		SuggestedFix: "use < instead of <=",
	}, p.Issues[0])
	assert.Equal(t, models.CategoryBestPractices, p.Issues[1].Category)
	assert.Equal(t, models.SeverityLow, p.Issues[1].Severity)
	assert.Equal(t, models.CategoryQuality, p.Issues[2].Category)
	assert.Equal(t, models.SeverityMedium, p.Issues[2].Severity)
}

func TestParseCritiqueDefaults(t *testing.T) {
	for _, text := range []string{"", "looks good to me", "QUALITY_SCORE: unknown\nSUMMARY:"} {
		p := ParseCritique(text)
		assert.Equal(t, DefaultCritiqueScore, p.QualityScore, text)
		assert.Equal(t, DefaultCritiqueSummary, p.Summary, text)
		assert.False(t, p.ScorePresent, text)
		assert.False(t, p.SummaryPresent, text)
		assert.Empty(t, p.Issues, text)
	}
}

func TestParseCritiqueMarkdownMarkers(t *testing.T) {
	p := ParseCritique("**Quality Score:** 8/10\n## Summary: tidy")
	assert.InDelta(t, 0.8, p.QualityScore, 1e-9)
	assert.Equal(t, "tidy", p.Summary)
}

func TestParseUnit(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"0.8", 0.8, true},
		{"1", 1, true},
		{"7", 0.7, true},
		{"85", 0.85, true},
		{"85%", 0.85, true},
		{"3/4", 0.75, true},
		{"250", 1, true},
		{"-2", 0, true},
		{"n/a", 0, false},
		{"5/0", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseUnit(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseRefinement(t *testing.T) {
	c := models.Critique{Issues: []models.Issue{{Description: "a"}, {Description: "b"}}}

	t.Run("markers", func(t *testing.T) {
		r := ParseRefinement("REFINED_RESPONSE:\nline one\nline two\nIMPROVEMENTS: tightened", c)
		assert.Equal(t, "line one\nline two", r.Response)
		assert.Equal(t, "tightened", r.Summary)
		assert.True(t, r.ResponsePresent)
		assert.True(t, r.SummaryPresent)
	})

	t.Run("no markers", func(t *testing.T) {
		r := ParseRefinement("  just the new text  ", c)
		assert.Equal(t, "just the new text", r.Response)
		assert.Equal(t, "Addressed 2 issue(s) from the critique", r.Summary)
		assert.False(t, r.ResponsePresent)
		assert.False(t, r.SummaryPresent)
	})

	t.Run("response with its own improvements heading", func(t *testing.T) {
		text := "REFINED_RESPONSE:\nIntro\nImprovements: listed here\nIMPROVEMENTS: real summary"
		r := ParseRefinement(text, c)
		assert.Equal(t, "Intro\nImprovements: listed here", r.Response)
		assert.Equal(t, "real summary", r.Summary)
	})

	t.Run("summary only", func(t *testing.T) {
		r := ParseRefinement("new text\nIMPROVEMENTS: shorter", models.Critique{})
		assert.Equal(t, "new text", r.Response)
		assert.Equal(t, "shorter", r.Summary)
	})

	t.Run("empty response marker", func(t *testing.T) {
		r := ParseRefinement("REFINED_RESPONSE:\nIMPROVEMENTS: none", models.Critique{})
		assert.False(t, r.ResponsePresent)
		assert.Equal(t, "REFINED_RESPONSE:\nIMPROVEMENTS: none", r.Response)
		assert.Equal(t, "none", r.Summary)
	})
}

func TestParseVerification(t *testing.T) {
	p := ParseVerification("IMPROVED: Yes.\nCONFIDENCE: 0.92\nRECOMMENDATION: ACCEPT\nREASONING: fixes the bug")
	assert.True(t, p.Improved)
	assert.True(t, p.ImprovedPresent)
	assert.Equal(t, 0.92, p.Confidence)
	assert.Equal(t, models.RecommendAccept, p.Recommendation)
	assert.Equal(t, "fixes the bug", p.Reasoning)

	p = ParseVerification("IMPROVED: no\nRECOMMENDATION: reject")
	assert.False(t, p.Improved)
	assert.True(t, p.ImprovedPresent)
	assert.Equal(t, models.RecommendReject, p.Recommendation)
	assert.Equal(t, DefaultConfidence, p.Confidence)
}

func TestParseVerificationDefaults(t *testing.T) {
	p := ParseVerification("the new one reads better, probably")
	assert.False(t, p.Improved)
	assert.False(t, p.ImprovedPresent)
	assert.Equal(t, DefaultConfidence, p.Confidence)
	assert.Equal(t, models.RecommendUncertain, p.Recommendation)

	p = ParseVerification("IMPROVED: maybe\nRECOMMENDATION: shrug")
	assert.False(t, p.Improved)
	assert.False(t, p.ImprovedPresent)
	assert.False(t, p.RecommendationPresent)
	assert.Equal(t, models.RecommendUncertain, p.Recommendation)
}
