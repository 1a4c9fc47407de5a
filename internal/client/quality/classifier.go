package quality

import "time"

// Level is a coarse classification of transport health.
type Level string

const (
	Good Level = "good"
	Fair Level = "fair"
	Poor Level = "poor"
)

// Metrics are the raw counters pulled from one stats snapshot.
type Metrics struct {
	PacketsReceived uint64
	PacketsLost     uint64
	RTT             time.Duration
	Jitter          time.Duration
}

// LossRatio is lost/(received+lost), or 0 before any packet has arrived.
func (m Metrics) LossRatio() float64 {
	total := m.PacketsReceived + m.PacketsLost
	if total == 0 {
		return 0
	}

	return float64(m.PacketsLost) / float64(total)
}

// Classify maps one snapshot to a level. It is stateless: no smoothing
// across samples, so callers that need a stable reading must debounce.
func Classify(m Metrics) Level {
	loss := m.LossRatio()

	switch {
	case loss > 0.05 || m.RTT > 300*time.Millisecond || m.Jitter > 30*time.Millisecond:
		return Poor
	case loss > 0.02 || m.RTT > 150*time.Millisecond || m.Jitter > 15*time.Millisecond:
		return Fair
	default:
		return Good
	}
}
