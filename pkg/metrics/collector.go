package metrics

import (
	"time"

	"github.com/cuemby/promagent/pkg/types"
)

// StateSource is the subset of the state store the collector reads
type StateSource interface {
	GetInstalledState() (types.InstalledState, error)
	ListRelations() (map[int][]byte, error)
}

// Collector refreshes state gauges from the store on an interval. Cycle
// counters are updated by the reconciler itself.
type Collector struct {
	source   StateSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StateSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes the gauges once
func (c *Collector) Collect() {
	if state, err := c.source.GetInstalledState(); err == nil {
		SetInstalledVersion(state.InstalledVersion)
	}

	if relations, err := c.source.ListRelations(); err == nil {
		Relations.Set(float64(len(relations)))
	}
}
