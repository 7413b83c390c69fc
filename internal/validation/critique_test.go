package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/pkg/models"
)

type fixedCritic struct {
	critique models.Critique
	err      error
	prompts  []string
}

func (f *fixedCritic) Critique(_ context.Context, prompt, _, _ string) (models.Critique, error) {
	f.prompts = append(f.prompts, prompt)
	return f.critique, f.err
}

func TestCritiqueValidator(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		escalate bool
	}{
		{"below floor", 0.59, true},
		{"at floor", 0.6, false},
		{"above floor", 0.9, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			critic := &fixedCritic{critique: models.Critique{
				QualityScore: tt.score,
				Summary:      "s",
				Issues: []models.Issue{{
					Category:    models.CategoryClarity,
					Severity:    models.SeverityLow,
					Description: "wordy",
				}},
			}}
			v := NewCritiqueValidator(critic, 0.6)

			res, err := v.Validate(context.Background(), "prompt", "output")
			require.NoError(t, err)
			assert.Equal(t, tt.score, res.QualityScore)
			assert.Equal(t, tt.escalate, res.ShouldEscalate)
			assert.Equal(t, "s", res.Summary)
			assert.Equal(t, []string{"[clarity/low] wordy"}, res.Issues)
			assert.Equal(t, []string{"prompt"}, critic.prompts)
		})
	}
}

func TestCritiqueValidatorDefaultFloor(t *testing.T) {
	v := NewCritiqueValidator(&fixedCritic{}, 0)
	assert.Equal(t, policy.DefaultValidationFloor, v.Floor())
	v = NewCritiqueValidator(&fixedCritic{}, 1.5)
	assert.Equal(t, policy.DefaultValidationFloor, v.Floor())
}

func TestCritiqueValidatorError(t *testing.T) {
	boom := errors.New("timeout")
	v := NewCritiqueValidator(&fixedCritic{err: boom}, 0.5)

	res, err := v.Validate(context.Background(), "p", "o")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
}
