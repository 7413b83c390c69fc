package models

import "strings"

// Tier represents the execution tier a task runs on.
type Tier string

const (
	// TierLocal is the fast, cheap tier tried first.
	TierLocal Tier = "local"
	// TierEscalation is the slower, more capable tier used after escalation.
	TierEscalation Tier = "escalation"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierLocal, TierEscalation:
		return true
	default:
		return false
	}
}

// Complexity is the estimated difficulty of a task.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	default:
		return false
	}
}

// ParseComplexity converts free-form input to a Complexity.
// Unknown or empty values map to ComplexitySimple.
func ParseComplexity(s string) Complexity {
	c := Complexity(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c
	}
	return ComplexitySimple
}
