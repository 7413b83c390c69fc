package validation

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/internal/quality"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// CritiqueValidator validates output with a single critique.
type CritiqueValidator struct {
	critic quality.Critic
	floor  float64
}

// NewCritiqueValidator creates a validator that recommends escalation when
// the critique score is below floor. Floors outside (0, 1] use the default.
func NewCritiqueValidator(critic quality.Critic, floor float64) *CritiqueValidator {
	if floor <= 0 || floor > 1 {
		floor = policy.DefaultValidationFloor
	}
	return &CritiqueValidator{critic: critic, floor: floor}
}

// Floor returns the score below which escalation is recommended.
func (v *CritiqueValidator) Floor() float64 {
	return v.floor
}

// Validate critiques output produced for prompt.
func (v *CritiqueValidator) Validate(ctx context.Context, prompt, output string) (*models.ValidationResult, error) {
	c, err := v.critic.Critique(ctx, prompt, output, "")
	if err != nil {
		return nil, fmt.Errorf("validate output: %w", err)
	}

	res := &models.ValidationResult{
		QualityScore:   c.QualityScore,
		ShouldEscalate: c.QualityScore < v.floor,
		Summary:        c.Summary,
	}
	for _, issue := range c.Issues {
		res.Issues = append(res.Issues, fmt.Sprintf("[%s/%s] %s", issue.Category, issue.Severity, issue.Description))
	}
	return res, nil
}
