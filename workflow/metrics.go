package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for execution monitoring.
//
// Exposed series (namespace "flowmatic"):
//   - flowmatic_inflight_nodes (gauge): nodes currently RUNNING
//   - flowmatic_ready_queue_depth (gauge): nodes ready but waiting for a
//     worker slot
//   - flowmatic_node_duration_ms (histogram): node execution latency,
//     labeled by node type and final status
//   - flowmatic_node_failures_total (counter): node failures by type and cause
//   - flowmatic_executions_total (counter): finished executions by terminal
//     status
type Metrics struct {
	inflightNodes prometheus.Gauge
	readyDepth    prometheus.Gauge
	nodeDuration  *prometheus.HistogramVec
	nodeFailures  *prometheus.CounterVec
	executions    *prometheus.CounterVec
}

// NewMetrics registers the engine's metrics on reg. A nil registerer uses
// the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowmatic",
			Name:      "inflight_nodes",
			Help:      "Number of workflow nodes currently executing.",
		}),
		readyDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowmatic",
			Name:      "ready_queue_depth",
			Help:      "Number of nodes ready to run but waiting for a worker slot.",
		}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowmatic",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node_type", "status"}),
		nodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmatic",
			Name:      "node_failures_total",
			Help:      "Total node failures by node type and cause.",
		}, []string{"node_type", "cause"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmatic",
			Name:      "executions_total",
			Help:      "Finished executions by terminal status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) nodeStarted() {
	if m != nil {
		m.inflightNodes.Inc()
	}
}

func (m *Metrics) nodeFinished(nodeType string, status NodeStatus, cause string, d time.Duration) {
	if m == nil {
		return
	}
	m.inflightNodes.Dec()
	m.nodeDuration.WithLabelValues(nodeType, string(status)).Observe(float64(d.Milliseconds()))
	if status == NodeFailed {
		m.nodeFailures.WithLabelValues(nodeType, cause).Inc()
	}
}

func (m *Metrics) readyQueue(depth int) {
	if m != nil {
		m.readyDepth.Set(float64(depth))
	}
}

func (m *Metrics) executionFinished(status Status) {
	if m != nil {
		m.executions.WithLabelValues(string(status)).Inc()
	}
}
