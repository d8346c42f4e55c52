//Package telemetry exposes Prometheus counters for the sampling engine. Counters are
//registered on the default registry; Handler returns the /metrics HTTP handler.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	//SamplesWritten counts samples handed to the hardware interface, per channel kind
	SamplesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsegen_samples_written_total",
		Help: "Number of samples written to the pulse generator, per channel kind",
	}, []string{"kind"})

	//WaveformsSampled counts completed ensemble sampling runs
	WaveformsSampled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsegen_waveforms_sampled_total",
		Help: "Number of successfully sampled waveforms",
	})

	//SequencesWritten counts completed sequence table writes
	SequencesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsegen_sequences_written_total",
		Help: "Number of successfully written device sequence tables",
	})

	//SamplingFailures counts aborted sampling operations
	SamplingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsegen_sampling_failures_total",
		Help: "Number of sampling operations aborted with an error",
	})

	//SamplingDuration tracks wall-clock duration of sampling operations
	SamplingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulsegen_sampling_duration_seconds",
		Help:    "Wall-clock duration of sampling operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

//Handler returns the HTTP handler serving the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
