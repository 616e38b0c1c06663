package telemetry

import (
	"context"
	"time"
)

// RiverStatsProvider exposes the values sampled by Collector
type RiverStatsProvider interface {
	QueueDepth() int
	PositionTime() (time.Time, bool)
}

// Collector samples river state into the queue depth and lag gauges
type Collector struct {
	provider RiverStatsProvider
	interval time.Duration
	now      func() time.Time
}

func NewCollector(provider RiverStatsProvider, interval time.Duration) *Collector {
	return &Collector{provider: provider, interval: interval, now: time.Now}
}

// Run samples once immediately, then every interval until ctx is done
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.sample()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Collector) sample() {
	if c.provider == nil {
		return
	}

	QueueDepth.Set(float64(c.provider.QueueDepth()))

	at, ok := c.provider.PositionTime()
	if !ok {
		return
	}
	PositionLagSeconds.Set(max(c.now().Sub(at).Seconds(), 0))
}
