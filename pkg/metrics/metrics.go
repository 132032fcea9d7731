package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the intake pipeline
var (
	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxrelay_auth_attempts_total",
			Help: "Total number of /auth attempts by outcome",
		},
		[]string{"outcome"},
	)

	VoiceMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxrelay_voice_messages_total",
			Help: "Total number of inbound voice messages by result",
		},
		[]string{"result"},
	)

	ConversionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voxrelay_conversion_duration_seconds",
			Help:    "Duration of fetch plus conversion for one voice message",
			Buckets: prometheus.DefBuckets,
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxrelay_notifications_total",
			Help: "Total number of broker notifications by result",
		},
		[]string{"result"},
	)
)

// Register registers all Prometheus metrics with the default registry.
func Register() {
	prometheus.MustRegister(AuthAttemptsTotal)
	prometheus.MustRegister(VoiceMessagesTotal)
	prometheus.MustRegister(ConversionDuration)
	prometheus.MustRegister(NotificationsTotal)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
