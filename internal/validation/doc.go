// Package validation scores tier output so the escalation policy can act on it.
//
// # Overview
//
// A CritiqueValidator asks a quality.Critic to critique what a tier
// produced and turns that critique into a models.ValidationResult:
//
//   - QualityScore is the critique score in [0, 1]
//   - ShouldEscalate is set when the score is below the validation floor
//   - Issues and Summary are copied from the critique
//
// # Usage
//
//	loop := quality.New(localProvider, cfg.Quality)
//	v := validation.NewCritiqueValidator(loop, cfg.Quality.ValidationFloor)
//
//	res, err := v.Validate(ctx, prompt, output)
//	if err != nil {
//	    // the critic could not be reached; treat as no validation
//	}
//	if res.ShouldEscalate {
//	    fmt.Println("quality below floor:", res.Summary)
//	}
//
// # Error Handling
//
// Malformed critic output never fails validation; the critique parser
// falls back to its default score. Only critic transport errors are
// returned, and the coordinator treats those as "no validation result".
package validation
