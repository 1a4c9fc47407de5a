package quality

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vantu-dev/pairlink/internal/application/constant"
)

// DefaultInterval is how often a connected session is sampled.
const DefaultInterval = 2 * time.Second

// StatsSource yields one snapshot of transport counters.
type StatsSource interface {
	Stats() (Metrics, error)
}

// Sample is one classified observation.
type Sample struct {
	Level   Level
	Metrics Metrics
}

// Monitor periodically samples a StatsSource and reports classified
// observations. It is owned by exactly one session and must be stopped when
// that session ends.
type Monitor struct {
	source   StatsSource
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func NewMonitor(source StatsSource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Monitor{
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sampling loop. onSample is invoked from the loop
// goroutine once per interval until Stop.
func (m *Monitor) Start(onSample func(Sample)) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				metrics, err := m.source.Stats()
				if err != nil {
					slog.Warn("sample transport stats", slog.Any(constant.Error, err))
					continue
				}

				onSample(Sample{Level: Classify(metrics), Metrics: metrics})
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit. Safe to call more than
// once and from teardown paths.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}
