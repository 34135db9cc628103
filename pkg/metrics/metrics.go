// Package metrics records optimisation-run metrics in a private Prometheus
// registry. A nil *Recorder is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "seo_optimizer"

// Outcome labels.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"

	SynthesisAccepted = "accepted"
	SynthesisSkipped  = "skipped"
	SynthesisInvalid  = "invalid"
)

type Recorder struct {
	registry *prometheus.Registry

	directives    *prometheus.CounterVec
	opportunities *prometheus.CounterVec
	syntheses     *prometheus.CounterVec
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	lastBatchUnix prometheus.Gauge
	snapshots     prometheus.Counter
	pruned        prometheus.Counter
	rollbacks     prometheus.Counter
}

func New(namespace string) *Recorder {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		directives: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Edit directives processed by the mutation engine, by outcome.",
		}, []string{"outcome"}),
		opportunities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Opportunities produced by the classifier, by kind.",
		}, []string{"kind"}),
		syntheses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syntheses_total",
			Help:      "Directive syntheses, by result.",
		}, []string{"result"}),
		batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Mutation batches run.",
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a mutation batch including the snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		lastBatchUnix: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_timestamp_seconds",
			Help:      "Unix time the last batch finished.",
		}),
		snapshots: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Document tree snapshots taken.",
		}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_pruned_total",
			Help:      "Snapshots removed by the retention policy.",
		}),
		rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollbacks performed.",
		}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Directive(outcome string) {
	if r == nil {
		return
	}
	r.directives.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Opportunities(kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.opportunities.WithLabelValues(kind).Add(float64(n))
}

func (r *Recorder) Synthesis(result string) {
	if r == nil {
		return
	}
	r.syntheses.WithLabelValues(result).Inc()
}

func (r *Recorder) Batch(d time.Duration) {
	if r == nil {
		return
	}
	r.batches.Inc()
	r.batchDuration.Observe(d.Seconds())
	r.lastBatchUnix.SetToCurrentTime()
}

func (r *Recorder) Snapshot() {
	if r == nil {
		return
	}
	r.snapshots.Inc()
}

func (r *Recorder) Pruned(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.pruned.Add(float64(n))
}

func (r *Recorder) Rollback() {
	if r == nil {
		return
	}
	r.rollbacks.Inc()
}

// WriteTextfile dumps the registry in the text exposition format, for a
// node_exporter textfile collector picking up batch-job metrics.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
