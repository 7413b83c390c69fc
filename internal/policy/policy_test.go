package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMatchesDecisionConstants(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30*time.Second, cfg.Escalation.TimeoutThreshold)
	assert.Equal(t, 3, cfg.Escalation.MaxRetries)
	assert.Equal(t, 2, cfg.Escalation.ConsecutiveFailures)
	assert.Equal(t, 5, cfg.Escalation.HistorySize)
	assert.True(t, cfg.Queue.ExclusiveStart)
	assert.True(t, cfg.Quality.Enabled)
	assert.True(t, cfg.Quality.Verify)
}

func TestValidateResetsOutOfRange(t *testing.T) {
	cfg := &Config{
		Quality: QualityPolicy{
			MaxIterations:   0,
			Threshold:       1.5,
			CallTimeout:     time.Millisecond,
			ValidationFloor: -1,
		},
		Escalation: EscalationPolicy{
			TimeoutThreshold:    0,
			MaxRetries:          -2,
			ConsecutiveFailures: 0,
			HistorySize:         0,
		},
	}

	assert.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultMaxQueueItems, cfg.Queue.MaxItems)
	assert.Equal(t, DefaultMaxSubAgents, cfg.Delegation.MaxTasks)
	assert.Equal(t, DefaultParallelism, cfg.Delegation.Parallelism)
	assert.Equal(t, DefaultMaxIterations, cfg.Quality.MaxIterations)
	assert.Equal(t, DefaultQualityThreshold, cfg.Quality.Threshold)
	assert.Equal(t, DefaultCallTimeout, cfg.Quality.CallTimeout)
	assert.Equal(t, DefaultValidationFloor, cfg.Quality.ValidationFloor)
	assert.Equal(t, DefaultTimeoutThreshold, cfg.Escalation.TimeoutThreshold)
	assert.Equal(t, DefaultMaxRetries, cfg.Escalation.MaxRetries)
	assert.Equal(t, DefaultConsecutiveFailures, cfg.Escalation.ConsecutiveFailures)
	assert.Equal(t, DefaultHistorySize, cfg.Escalation.HistorySize)
	assert.Equal(t, DefaultEscalationTimeout, cfg.Escalation.EscalationTimeout)
}

func TestValidateKeepsHistoryLargeEnoughForFailureWindow(t *testing.T) {
	e := EscalationPolicy{ConsecutiveFailures: 8, HistorySize: 3}
	e.Validate()
	assert.Equal(t, 8, e.HistorySize)
}
