package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the domain metrics of the consultation pipeline
type Metrics struct {
	TranscriptionRequests *prometheus.CounterVec
	TranscriptionLatency  prometheus.Histogram
	AudioBytes            prometheus.Histogram
	ConsultationStatus    *prometheus.CounterVec
	LoginAttempts         *prometheus.CounterVec
}

// New creates the metrics and registers them with reg when it is non-nil
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TranscriptionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transcription",
			Name:      "requests_total",
			Help:      "Total number of transcription webhook calls",
		}, []string{"result"}),
		TranscriptionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transcription",
			Name:      "duration_seconds",
			Help:      "Time spent waiting for the transcription webhook",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		AudioBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "payload_bytes",
			Help:      "Size of decoded audio payloads",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8),
		}),
		ConsultationStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consultation",
			Name:      "status_transitions_total",
			Help:      "Consultation status transitions by target status",
		}, []string{"status"}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TranscriptionRequests,
			m.TranscriptionLatency,
			m.AudioBytes,
			m.ConsultationStatus,
			m.LoginAttempts,
		)
	}
	return m
}
