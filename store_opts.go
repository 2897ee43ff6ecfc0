package exporter

import "time"

type StoreOption func(store *PgStore)

// WithQueryTimeout bounds each aggregation query. Keep it below the scrape
// interval so overlapping scrapes cannot pile up on a slow query.
func WithQueryTimeout(timeout time.Duration) StoreOption {
	return func(store *PgStore) {
		if timeout > 0 {
			store.queryTimeout = timeout
		}
	}
}
