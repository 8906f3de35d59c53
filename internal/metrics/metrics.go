// Package metrics holds the prometheus collectors for the gaze daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gaze"

var (
	// samplesTotal counts gaze records by outcome.
	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Total number of gaze records received from the producer",
		},
		[]string{"status"}, // status: accepted, rejected
	)

	// producerConnectionsTotal counts producer connection attempts.
	producerConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_connections_total",
			Help:      "Total number of producer connection attempts",
		},
		[]string{"status"}, // status: accepted, refused
	)

	// consumersActive is the number of connected overlay consumers.
	consumersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumers_active",
			Help:      "Number of connected overlay consumers",
		},
	)

	// framesTotal counts overlay frames broadcast.
	framesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of overlay frames broadcast",
		},
	)

	// sessionState is 1 for the controller's current state and 0 otherwise.
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session controller state",
		},
		[]string{"state"},
	)

	// sessionsTotal counts finished sessions by end reason.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished sessions",
		},
		[]string{"reason"},
	)

	// preemptionsTotal counts stale marker owners terminated on start.
	preemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preemptions_total",
			Help:      "Total number of previous session owners terminated",
		},
		[]string{"status"}, // status: terminated, failed
	)

	// calibrationDistance is a histogram of gaze-to-target distance in pixels.
	calibrationDistance = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calibration_distance_pixels",
			Help:      "Distance between filtered gaze and calibration target in pixels",
			Buckets:   []float64{10, 25, 50, 75, 100, 150, 200, 300, 500},
		},
	)

	// calibrationMissingTotal counts acknowledgements without a prediction.
	calibrationMissingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibration_missing_prediction_total",
			Help:      "Total number of calibration acknowledgements with no prediction",
		},
	)

	// blinksTotal counts detected blinks.
	blinksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blinks_total",
			Help:      "Total number of blinks reported or detected",
		},
	)

	allMetrics = []prometheus.Collector{
		samplesTotal,
		producerConnectionsTotal,
		consumersActive,
		framesTotal,
		sessionState,
		sessionsTotal,
		preemptionsTotal,
		calibrationDistance,
		calibrationMissingTotal,
		blinksTotal,
	}

	states = []string{"idle", "starting", "active", "calibrating", "stopping"}
)

// NewRegistry returns a registry holding every gaze collector plus the Go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the given registry in the exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordSample records one received record.
func RecordSample(accepted bool) {
	samplesTotal.WithLabelValues(status(accepted, "accepted", "rejected")).Inc()
}

// RecordProducer records a producer connection attempt.
func RecordProducer(accepted bool) {
	producerConnectionsTotal.WithLabelValues(status(accepted, "accepted", "refused")).Inc()
}

// SetConsumers sets the number of connected overlay consumers.
func SetConsumers(n int) {
	consumersActive.Set(float64(n))
}

// RecordFrame records one broadcast frame.
func RecordFrame() {
	framesTotal.Inc()
}

// SetState marks state as the current controller state.
func SetState(state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

// RecordSessionEnd records a finished session.
func RecordSessionEnd(reason string) {
	sessionsTotal.WithLabelValues(reason).Inc()
}

// RecordPreemption records an attempt to terminate a previous owner.
func RecordPreemption(ok bool) {
	preemptionsTotal.WithLabelValues(status(ok, "terminated", "failed")).Inc()
}

// RecordCalibration records one calibration acknowledgement. A nil
// distance means no prediction was available.
func RecordCalibration(distance *float64) {
	if distance == nil {
		calibrationMissingTotal.Inc()
		return
	}
	calibrationDistance.Observe(*distance)
}

// RecordBlink records one blink.
func RecordBlink() {
	blinksTotal.Inc()
}

func status(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
