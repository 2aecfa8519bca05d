package cache

import (
	"log/slog"
	"time"

	"github.com/c360/smartcache/metric"
)

// Option configures store behavior using the functional options pattern.
type Option[V any] func(*storeOptions[V])

type storeOptions[V any] struct {
	// metricsReg is optional - if provided, stats are also exposed as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string

	evictCallback EvictCallback[V]
	clone         func(V) V
	clock         func() time.Time
	logger        *slog.Logger
}

// WithMetrics enables Prometheus metrics export for store statistics.
// Ignored when registry is nil or prefix is empty.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *storeOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a function called whenever an entry leaves the store.
// It runs outside the store lock, so it may call back into the store.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *storeOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithClone makes the store copy values on the way in and on the way out,
// so callers never share mutable state such as slices or maps with an
// entry. Without it the store keeps and returns values as given.
func WithClone[V any](clone func(V) V) Option[V] {
	return func(opts *storeOptions[V]) {
		opts.clone = clone
	}
}

// WithClock replaces time.Now. Tests use it to step time deterministically.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(opts *storeOptions[V]) {
		if now != nil {
			opts.clock = now
		}
	}
}

// WithLogger sets the logger used by the sweeper and loader.
func WithLogger[V any](logger *slog.Logger) Option[V] {
	return func(opts *storeOptions[V]) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

func applyOptions[V any](options ...Option[V]) *storeOptions[V] {
	opts := &storeOptions[V]{
		clock:  time.Now,
		logger: slog.Default(),
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
