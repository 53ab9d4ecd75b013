package connpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yuku/connpool/internal/metrics"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Observer receives pool and database events. See NewPrometheusObserver.
type Observer = metrics.Observer

// Outcome is how a transaction finished.
type Outcome = metrics.Outcome

// NewPrometheusObserver returns an Observer that registers its collectors
// with reg under namespace ("connpool" when empty).
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) Observer {
	return metrics.NewPrometheus(reg, namespace)
}

// Option configures a Pool or an AsyncPool.
type Option func(*options)

type options struct {
	logger *zap.Logger
	obs    metrics.Observer
	tracer trace.Tracer
}

// WithLogger sets the logger. Logging is disabled by default.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.obs = obs
	}
}

// WithTracer sets the tracer for dispatched async calls.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.obs = metrics.OrNop(o.obs)
	return o
}
