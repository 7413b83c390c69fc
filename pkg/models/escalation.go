package models

import "time"

// EscalationDecision is the outcome of one escalation policy evaluation.
type EscalationDecision struct {
	ShouldEscalate bool    `json:"should_escalate"`
	Reason         string  `json:"reason"`
	Confidence     float64 `json:"confidence"`
}

// Attempt records one execution attempt of a task.
type Attempt struct {
	Tier         Tier      `json:"tier"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	QualityScore *float64  `json:"quality_score,omitempty"`
}

// Duration returns the wall time of the attempt.
func (a Attempt) Duration() time.Duration {
	if a.EndedAt.Before(a.StartedAt) {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// MetricsSnapshot is a point-in-time copy of the escalation metrics.
type MetricsSnapshot struct {
	TotalExecutions        int64   `json:"total_executions"`
	LocalSuccesses         int64   `json:"local_successes"`
	LocalFailures          int64   `json:"local_failures"`
	Escalations            int64   `json:"escalations"`
	EscalationRate         float64 `json:"escalation_rate"`
	AvgLocalLatencyMs      float64 `json:"avg_local_latency_ms"`
	AvgEscalationLatencyMs float64 `json:"avg_escalation_latency_ms"`
	// LocalSamples and EscalationSamples weight the running averages.
	LocalSamples      int64     `json:"local_samples"`
	EscalationSamples int64     `json:"escalation_samples"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PlanStep is one step handed to a tier executor.
type PlanStep struct {
	Description string `json:"description" yaml:"description"`
	Prompt      string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// Text returns the prompt, falling back to the description.
func (s PlanStep) Text() string {
	if s.Prompt != "" {
		return s.Prompt
	}
	return s.Description
}

// ExecutionOutcome is what a tier executor reports for a plan.
type ExecutionOutcome struct {
	Success    bool          `json:"success"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	TokensUsed int64         `json:"tokens_used,omitempty"`
	// QualityScore is set when the output went through the quality loop.
	QualityScore *float64 `json:"quality_score,omitempty"`
}
