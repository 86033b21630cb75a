package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the supervisor's system-health signals. Dropped data and
// store failures are health signals, not alert-rule inputs, so they live
// here instead of the alert engine.
var (
	samplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fridgectl_samples_dropped_total",
		Help: "Samples evicted from the buffer under backpressure.",
	})
	samplesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fridgectl_samples_written_total",
		Help: "Samples committed to the time-series store.",
	})
	storeWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fridgectl_store_write_failures_total",
		Help: "Store write attempts that failed.",
	})
	batchesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fridgectl_store_batches_dropped_total",
		Help: "Batches dropped after retry exhaustion or validation failure.",
	})
	linkTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fridgectl_link_transitions_total",
		Help: "Controller link state transitions.",
	}, []string{"controller", "to"})
	commandOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fridgectl_command_outcomes_total",
		Help: "Terminal command outcomes.",
	}, []string{"outcome"})
	bufferLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fridgectl_buffer_length",
		Help: "Samples currently held in the in-memory buffer.",
	})
)

func AddSamplesDropped(n int) {
	samplesDropped.Add(float64(n))
}

func AddSamplesWritten(n int) {
	samplesWritten.Add(float64(n))
}

func IncStoreWriteFailure() {
	storeWriteFailures.Inc()
}

func IncBatchDropped() {
	batchesDropped.Inc()
}

func IncLinkTransition(controllerID, to string) {
	linkTransitions.WithLabelValues(controllerID, to).Inc()
}

func IncCommandOutcome(outcome string) {
	commandOutcomes.WithLabelValues(outcome).Inc()
}

func SetBufferLength(n int) {
	bufferLength.Set(float64(n))
}
