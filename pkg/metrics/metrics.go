package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a counting run. It satisfies
// dispatch.Observer.
type Metrics struct {
	registry       *prometheus.Registry
	TasksSubmitted prometheus.Counter
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter
	InFlight       prometheus.Gauge
	TaskLatency    prometheus.Histogram
	Records        prometheus.Counter
	Tokens         prometheus.Counter
	BytesRead      prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "tasks_submitted_total",
			Help:      "Total number of work items submitted to a worker slot",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "tasks_completed_total",
			Help:      "Total number of work items that completed successfully",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "tasks_failed_total",
			Help:      "Total number of work items that failed",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "tasks_in_flight",
			Help:      "Number of work items currently held by worker slots",
		}),
		TaskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "task_latency_seconds",
			Help:      "Histogram of work item execution latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of dataset records tokenized",
		}),
		Tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total number of tokens counted",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_bytes_total",
			Help:      "Total number of dataset bytes read",
		}),
	}
	m.registry.MustRegister(
		m.TasksSubmitted,
		m.TasksCompleted,
		m.TasksFailed,
		m.InFlight,
		m.TaskLatency,
		m.Records,
		m.Tokens,
		m.BytesRead,
	)
	return m
}

func (m *Metrics) Submitted(int) {
	m.TasksSubmitted.Inc()
	m.InFlight.Inc()
}

func (m *Metrics) Completed(_ int, elapsed time.Duration, err error) {
	m.InFlight.Dec()
	m.TaskLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.TasksFailed.Inc()
	} else {
		m.TasksCompleted.Inc()
	}
}

// ObserveShard records the totals of one counted shard.
func (m *Metrics) ObserveShard(records, tokens, bytesRead int64) {
	m.Records.Add(float64(records))
	m.Tokens.Add(float64(tokens))
	m.BytesRead.Add(float64(bytesRead))
}

// WriteTextfile writes every metric in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return errors.Wrapf(prometheus.WriteToTextfile(path, m.registry),
		"writing metrics to %s", path)
}
