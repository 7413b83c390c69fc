package escalation

import (
	"time"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// metrics accumulates execution counters and running latency averages.
// Counters only grow; reset is an explicit operator action.
type metrics struct {
	s models.MetricsSnapshot
}

func (m *metrics) observeAttempt(a models.Attempt, at time.Time) {
	m.s.TotalExecutions++
	switch a.Tier {
	case models.TierLocal:
		if a.Success {
			m.s.LocalSuccesses++
		} else {
			m.s.LocalFailures++
		}
		m.observeLocalLatency(a.Duration())
	case models.TierEscalation:
		m.s.EscalationSamples++
		m.s.AvgEscalationLatencyMs = runningAvg(m.s.AvgEscalationLatencyMs, ms(a.Duration()), m.s.EscalationSamples)
	}
	m.recomputeRate()
	m.s.UpdatedAt = at
}

func (m *metrics) observeEscalation(fromLocal bool, localElapsed time.Duration, at time.Time) {
	m.s.Escalations++
	if fromLocal {
		m.s.LocalFailures++
		if localElapsed > 0 {
			m.observeLocalLatency(localElapsed)
		}
	}
	m.recomputeRate()
	m.s.UpdatedAt = at
}

func (m *metrics) observeLocalLatency(d time.Duration) {
	m.s.LocalSamples++
	m.s.AvgLocalLatencyMs = runningAvg(m.s.AvgLocalLatencyMs, ms(d), m.s.LocalSamples)
}

func (m *metrics) recomputeRate() {
	if m.s.TotalExecutions == 0 {
		m.s.EscalationRate = 0
		return
	}
	m.s.EscalationRate = float64(m.s.Escalations) / float64(m.s.TotalExecutions)
}

func runningAvg(avg, sample float64, n int64) float64 {
	if n <= 1 {
		return sample
	}
	return avg + (sample-avg)/float64(n)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
