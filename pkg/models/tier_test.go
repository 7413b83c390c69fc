package models

import (
	"testing"
	"time"
)

func TestTier_Valid(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		want bool
	}{
		{"local is valid", TierLocal, true},
		{"escalation is valid", TierEscalation, true},
		{"empty string is invalid", Tier(""), false},
		{"old tier names are invalid", Tier("builder"), false},
		{"uppercase is invalid", Tier("LOCAL"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.Valid(); got != tt.want {
				t.Errorf("Tier(%q).Valid() = %v, want %v", tt.tier, got, tt.want)
			}
		})
	}
}

func TestParseComplexity(t *testing.T) {
	tests := []struct {
		in   string
		want Complexity
	}{
		{"simple", ComplexitySimple},
		{"Moderate", ComplexityModerate},
		{"  COMPLEX ", ComplexityComplex},
		{"", ComplexitySimple},
		{"hard", ComplexitySimple},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseComplexity(tt.in); got != tt.want {
				t.Errorf("ParseComplexity(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAttempt_Duration(t *testing.T) {
	start := time.Now()
	a := Attempt{StartedAt: start, EndedAt: start.Add(1500 * time.Millisecond)}
	if got := a.Duration(); got != 1500*time.Millisecond {
		t.Errorf("Duration() = %v, want 1.5s", got)
	}

	backwards := Attempt{StartedAt: start, EndedAt: start.Add(-time.Second)}
	if got := backwards.Duration(); got != 0 {
		t.Errorf("Duration() with end before start = %v, want 0", got)
	}
}

func TestPlanStep_Text(t *testing.T) {
	if got := (PlanStep{Description: "d"}).Text(); got != "d" {
		t.Errorf("Text() = %q, want description fallback", got)
	}
	if got := (PlanStep{Description: "d", Prompt: "p"}).Text(); got != "p" {
		t.Errorf("Text() = %q, want prompt", got)
	}
}

func TestCritique_CountBySeverity(t *testing.T) {
	c := Critique{Issues: []Issue{
		{Severity: SeverityHigh}, {Severity: SeverityLow}, {Severity: SeverityHigh},
	}}
	if got := c.CountBySeverity(SeverityHigh); got != 2 {
		t.Errorf("CountBySeverity(high) = %d, want 2", got)
	}
	if got := c.CountBySeverity(SeverityMedium); got != 0 {
		t.Errorf("CountBySeverity(medium) = %d, want 0", got)
	}
}

func TestSubAgentProgress(t *testing.T) {
	var p SubAgentProgress
	p.Add(SubAgentStatusPending)
	p.Add(SubAgentStatusRunning)
	p.Add(SubAgentStatusCompleted)
	p.Add(SubAgentStatusCompleted)
	p.Add(SubAgentStatusFailed)

	want := SubAgentProgress{Total: 5, Pending: 1, Running: 1, Completed: 2, Failed: 1}
	if p != want {
		t.Errorf("progress = %+v, want %+v", p, want)
	}
}
