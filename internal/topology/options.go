package topology

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"
)

// Option configures a controller service.
type Option func(*serviceConfig)

type serviceConfig struct {
	logger  *slog.Logger
	metrics MetricsReporter
}

// WithLogger sets the logger used by the service and its controllers.
func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the transition metrics reporter.
func WithMetrics(m MetricsReporter) Option {
	return func(c *serviceConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

func newServiceConfig(component string, opts []Option) serviceConfig {
	cfg := serviceConfig{
		logger:  slog.Default(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.With(slog.String("component", component))
	return cfg
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
