package exporter

import "github.com/prometheus/client_golang/prometheus"

// NewRegistry builds the exporter's metric registry with the given
// collectors registered. The registry is an explicit value owned by the
// caller and handed to the HTTP server; there is no package-level default
// registration.
func NewRegistry(collectors ...prometheus.Collector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
