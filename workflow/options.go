package workflow

import (
	"log/slog"
	"time"

	"github.com/flowmatic/engine/workflow/emit"
)

// Default execution tuning. MaxConcurrency is deliberately small: node work
// is external I/O, and a runaway fan-out should saturate the workflow's own
// budget, not the process.
const (
	DefaultMaxConcurrency = 2
	DefaultNodeTimeout    = 30 * time.Second
)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	// MaxConcurrency is the engine-wide default worker pool bound, used when
	// a workflow's settings do not set one.
	MaxConcurrency int

	// NodeTimeout is the default per-node timeout. Individual nodes may
	// override it via their spec.
	NodeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.NodeTimeout <= 0 {
		o.NodeTimeout = DefaultNodeTimeout
	}
	return o
}

// Option is a functional option for NewEngine.
type Option func(*Engine)

// WithOptions replaces the engine's execution tuning.
func WithOptions(opts Options) Option {
	return func(e *Engine) { e.opts = opts }
}

// WithEmitter sets the observability event emitter.
func WithEmitter(emitter emit.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithMetrics sets the Prometheus metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the structured logger for engine operational logs.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}
