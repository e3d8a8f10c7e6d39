package metrics

import (
	"time"
)

// StagingCache is the subset of pkg/cache.RedisCache the collector polls.
// Defined here (rather than imported) so pkg/metrics has no dependency on
// pkg/cache; the cache package satisfies it structurally.
type StagingCache interface {
	Size() (int64, error)
	Tables() ([]string, error)
}

// Collector polls the staging cache on an interval and republishes its
// advisory counters as Prometheus gauges.
type Collector struct {
	cache  StagingCache
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for the given cache.
func NewCollector(cache StagingCache) *Collector {
	return &Collector{
		cache:  cache,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	size, err := c.cache.Size()
	if err == nil {
		CacheSize.Set(float64(size))
	}

	tables, tErr := c.cache.Tables()
	if tErr == nil {
		CacheTablesTotal.Set(float64(len(tables)))
	}

	// The Collector's poll is the process's only periodic signal that the
	// Staging Cache backend is still reachable; /health and /ready report
	// whichever of the two calls failed.
	if err != nil {
		ReportCachePoll(err)
	} else {
		ReportCachePoll(tErr)
	}
}
