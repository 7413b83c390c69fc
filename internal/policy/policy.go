// Package policy defines configurable policy parameters for tandem.
// This centralizes the thresholds used by the queue, the delegation tracker,
// the quality loop and the escalation policy so they can be configured and tested.
package policy

import "time"

// Default values. Escalation constants are part of the decision contract.
const (
	DefaultTimeoutThreshold    = 30 * time.Second
	DefaultMaxRetries          = 3
	DefaultConsecutiveFailures = 2
	DefaultHistorySize         = 5

	DefaultMaxIterations    = 3
	DefaultQualityThreshold = 0.8
	DefaultCallTimeout      = 2 * time.Minute

	DefaultMaxQueueItems     = 100
	DefaultMaxSubAgents      = 10
	DefaultParallelism       = 3
	DefaultValidationFloor   = 0.6
	DefaultEscalationTimeout = 5 * time.Minute
)

// Config contains all configurable policy parameters.
type Config struct {
	// Queue policies
	Queue QueuePolicy

	// Delegation policies
	Delegation DelegationPolicy

	// Quality loop policies
	Quality QualityPolicy

	// Escalation decision policies
	Escalation EscalationPolicy
}

// QueuePolicy controls the todo queue.
type QueuePolicy struct {
	// MaxItems is the maximum number of tasks the queue will hold.
	MaxItems int

	// ExclusiveStart rejects Start while another task is current.
	ExclusiveStart bool
}

// DelegationPolicy controls sub-agent delegation.
type DelegationPolicy struct {
	// MaxTasks is the maximum number of tracked sub-agent tasks.
	MaxTasks int

	// Parallelism bounds concurrent sub-agent execution in ExecuteAll.
	Parallelism int
}

// QualityPolicy controls the critique/refine/verify loop.
type QualityPolicy struct {
	// Enabled turns the loop on. When false Improve returns the input unchanged.
	Enabled bool

	// MaxIterations caps critique rounds per Improve call.
	MaxIterations int

	// Threshold is the quality score in [0,1] at which the loop stops early.
	Threshold float64

	// Verify compares each refinement against its original before adopting it.
	Verify bool

	// CallTimeout bounds each provider call made by the loop.
	CallTimeout time.Duration

	// ValidationFloor is the score below which validation recommends escalation.
	ValidationFloor float64
}

// EscalationPolicy controls when a task moves from the local to the escalation tier.
type EscalationPolicy struct {
	// TimeoutThreshold is the local execution time after which a task escalates.
	// It is also the deadline applied to local tier calls.
	TimeoutThreshold time.Duration

	// MaxRetries is the error count at which a task escalates.
	MaxRetries int

	// ConsecutiveFailures is how many trailing failed attempts trigger escalation.
	ConsecutiveFailures int

	// HistorySize is the capacity of the per-task attempt ring.
	HistorySize int

	// EscalationTimeout bounds escalation tier calls.
	EscalationTimeout time.Duration
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Queue: QueuePolicy{
			MaxItems:       DefaultMaxQueueItems,
			ExclusiveStart: true,
		},
		Delegation: DelegationPolicy{
			MaxTasks:    DefaultMaxSubAgents,
			Parallelism: DefaultParallelism,
		},
		Quality: QualityPolicy{
			Enabled:         true,
			MaxIterations:   DefaultMaxIterations,
			Threshold:       DefaultQualityThreshold,
			Verify:          true,
			CallTimeout:     DefaultCallTimeout,
			ValidationFloor: DefaultValidationFloor,
		},
		Escalation: EscalationPolicy{
			TimeoutThreshold:    DefaultTimeoutThreshold,
			MaxRetries:          DefaultMaxRetries,
			ConsecutiveFailures: DefaultConsecutiveFailures,
			HistorySize:         DefaultHistorySize,
			EscalationTimeout:   DefaultEscalationTimeout,
		},
	}
}

// Validate checks that policy values are within acceptable ranges,
// resetting out-of-range values to their defaults.
func (c *Config) Validate() error {
	if c.Queue.MaxItems < 1 {
		c.Queue.MaxItems = DefaultMaxQueueItems
	}
	if c.Delegation.MaxTasks < 1 {
		c.Delegation.MaxTasks = DefaultMaxSubAgents
	}
	if c.Delegation.Parallelism < 1 {
		c.Delegation.Parallelism = DefaultParallelism
	}
	c.Quality.Validate()
	c.Escalation.Validate()
	return nil
}

// Validate resets out-of-range quality values to their defaults.
func (q *QualityPolicy) Validate() {
	if q.MaxIterations < 1 {
		q.MaxIterations = DefaultMaxIterations
	}
	if q.Threshold <= 0 || q.Threshold > 1 {
		q.Threshold = DefaultQualityThreshold
	}
	if q.CallTimeout < time.Second {
		q.CallTimeout = DefaultCallTimeout
	}
	if q.ValidationFloor <= 0 || q.ValidationFloor > 1 {
		q.ValidationFloor = DefaultValidationFloor
	}
}

// Validate resets out-of-range escalation values to their defaults.
func (e *EscalationPolicy) Validate() {
	if e.TimeoutThreshold < time.Millisecond {
		e.TimeoutThreshold = DefaultTimeoutThreshold
	}
	if e.MaxRetries < 1 {
		e.MaxRetries = DefaultMaxRetries
	}
	if e.ConsecutiveFailures < 1 {
		e.ConsecutiveFailures = DefaultConsecutiveFailures
	}
	if e.HistorySize < e.ConsecutiveFailures {
		e.HistorySize = max(DefaultHistorySize, e.ConsecutiveFailures)
	}
	if e.EscalationTimeout < time.Second {
		e.EscalationTimeout = DefaultEscalationTimeout
	}
}
