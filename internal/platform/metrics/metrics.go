package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the Prometheus collectors of a reimport run.
type Metrics struct {
	registry *prometheus.Registry

	EdgesAdded        prometheus.Counter
	EdgesUpdated      prometheus.Counter
	EdgesDeleted      prometheus.Counter
	Splits            prometheus.Counter
	SearchIterations  prometheus.Counter
	PartitionsFailed  prometheus.Counter
	Anomalies         *prometheus.CounterVec
	PartitionDuration prometheus.Histogram
	LastRunSuccess    prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		EdgesAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "basenet_edges_added_total",
			Help: "Edges created from unmatched features or splits",
		}),
		EdgesUpdated: f.NewCounter(prometheus.CounterOpts{
			Name: "basenet_edges_updated_total",
			Help: "Edges whose attributes or geometry changed",
		}),
		EdgesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "basenet_edges_deleted_total",
			Help: "Edges deleted or replaced by successors",
		}),
		Splits: f.NewCounter(prometheus.CounterOpts{
			Name: "basenet_splits_total",
			Help: "Edge splits performed by the topology executor",
		}),
		SearchIterations: f.NewCounter(prometheus.CounterOpts{
			Name: "basenet_split_search_iterations_total",
			Help: "Candidate evaluations of the bounded split search",
		}),
		PartitionsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "basenet_partitions_failed_total",
			Help: "Partitions rolled back after a failure",
		}),
		Anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "basenet_anomalies_total",
			Help: "Protocol entries by kind",
		}, []string{"kind"}),
		PartitionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "basenet_partition_duration_seconds",
			Help:    "Wall time of one partition pass",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		LastRunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "basenet_last_run_success",
			Help: "1 when the last run finished without fatal flag",
		}),
	}
}

// Registry exposes the collectors, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePartition records the duration of one partition and whether it failed.
func (m *Metrics) ObservePartition(d time.Duration, failed bool) {
	m.PartitionDuration.Observe(d.Seconds())
	if failed {
		m.PartitionsFailed.Inc()
	}
}

// IncrementAnomaly counts one protocol entry of kind.
func (m *Metrics) IncrementAnomaly(kind string) {
	m.Anomalies.WithLabelValues(kind).Inc()
}

// Push sends the registry to a Pushgateway. An empty url is a no-op.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
