package exporter

import "time"

type CollectorOption func(c *Collector)

// WithCanaryDagID overrides the workflow id used to scope the scheduler
// delay metrics.
func WithCanaryDagID(dagID string) CollectorOption {
	return func(c *Collector) {
		if dagID != "" {
			c.canaryDagID = dagID
		}
	}
}

// WithCollectTimeout bounds one full collection across all dimensions.
func WithCollectTimeout(timeout time.Duration) CollectorOption {
	return func(c *Collector) {
		if timeout > 0 {
			c.collectTimeout = timeout
		}
	}
}
