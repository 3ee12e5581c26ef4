package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Emission triggers, used as the "trigger" label on batch counters.
const (
	triggerSize  = "size"
	triggerTimer = "timer"
	triggerDrain = "drain"
)

type metrics struct {
	entriesSubmitted prometheus.Counter
	entriesFiltered  prometheus.Counter
	entriesRejected  prometheus.Counter
	entriesDiscarded prometheus.Counter
	batchesEmitted   *prometheus.CounterVec
	batchesProcessed prometheus.Counter
	batchesFailed    prometheus.Counter
	batchesDiscarded prometheus.Counter
	workersBusy      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		entriesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipeline_entries_submitted_total",
			Help: "Entries accepted into the pending batch.",
		}),
		entriesFiltered: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipeline_entries_filtered_total",
			Help: "Entries dropped by the sink's ShouldLog pre-filter.",
		}),
		entriesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipeline_entries_rejected_total",
			Help: "Submissions refused because the pipeline left the running state.",
		}),
		entriesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipeline_entries_discarded_total",
			Help: "Pending entries thrown away when the pipeline faulted.",
		}),
		batchesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logpipeline_batches_emitted_total",
			Help: "Batches handed to the worker pool, by emission trigger.",
		}, []string{"trigger"}),
		batchesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipeline_batches_processed_total",
			Help: "Batches for which the sink's Log returned, success or not.",
		}),
		batchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipeline_batches_failed_total",
			Help: "Batches for which the sink's Log returned an error.",
		}),
		batchesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "logpipeline_batches_discarded_total",
			Help: "Scheduled batches dropped unprocessed after a fault.",
		}),
		workersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "logpipeline_workers_busy",
			Help: "Log invocations currently in flight.",
		}),
	}
}
