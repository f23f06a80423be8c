// Package metrics registers the indexer's Prometheus collectors the way
// cuemby-warren/pkg/metrics registers its gauges/counters/histograms in an
// init() plus a Handler().
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MostRecentCheckpointSlot = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kupochain_most_recent_checkpoint_slot",
		Help: "Slot number of the most recently applied checkpoint",
	})

	NodeTipSlot = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kupochain_node_tip_slot",
		Help: "Slot number of the chain producer's most recently observed tip",
	})

	MailboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kupochain_mailbox_depth",
		Help: "Number of chain-sync messages currently queued in the mailbox",
	})

	ActivePatternsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kupochain_active_patterns_total",
		Help: "Number of patterns currently registered",
	})

	BlocksAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kupochain_blocks_applied_total",
		Help: "Total number of RollForward blocks applied",
	})

	RollbacksAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kupochain_rollbacks_applied_total",
		Help: "Total number of RollBackward events applied",
	})

	InputsInsertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kupochain_inputs_inserted_total",
		Help: "Total number of matched outputs inserted into the store",
	})

	InputsSpentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kupochain_inputs_spent_total",
		Help: "Total number of inputs marked or removed as spent",
	})

	InputsPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kupochain_inputs_pruned_total",
		Help: "Total number of spent inputs pruned by the gardener",
	})

	ForcedRollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kupochain_forced_rollbacks_total",
		Help: "Total number of forced rollbacks requested through the control plane",
	})

	ConsumerBatchApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kupochain_consumer_batch_apply_duration_seconds",
		Help:    "Time taken by the consumer to apply one mailbox batch",
		Buckets: prometheus.DefBuckets,
	})

	GardenerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kupochain_gardener_tick_duration_seconds",
		Help:    "Time taken by one gardener pruning pass",
		Buckets: prometheus.DefBuckets,
	})

	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kupochain_api_requests_total",
		Help: "Total number of HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kupochain_api_request_duration_seconds",
		Help:    "HTTP request duration in seconds by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		MostRecentCheckpointSlot,
		NodeTipSlot,
		MailboxDepth,
		ActivePatternsTotal,
		BlocksAppliedTotal,
		RollbacksAppliedTotal,
		InputsInsertedTotal,
		InputsSpentTotal,
		InputsPrunedTotal,
		ForcedRollbacksTotal,
		ConsumerBatchApplyDuration,
		GardenerTickDuration,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus scrape handler for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a plain histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
