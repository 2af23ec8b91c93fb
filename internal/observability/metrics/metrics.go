// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meeting_relay"

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsFailed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Audio metrics
	FramesCaptured  prometheus.Counter
	SpeakingFrames  prometheus.Counter
	FramesSent      prometheus.Counter
	AudioBytesSent  prometheus.Counter
	RecordedBytes   prometheus.Counter

	// Transcript metrics
	TierEvents        *prometheus.CounterVec
	TierEventsIgnored prometheus.Counter
	Finalizations     *prometheus.CounterVec
	MalformedMessages *prometheus.CounterVec

	// Broadcast metrics
	BroadcastPublished *prometheus.CounterVec
	BroadcastReceived  *prometheus.CounterVec

	// Analysis metrics
	AnalysisRequests *prometheus.CounterVec
	AnalysisLatency  prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that ended in error",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of sessions in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}),

		FramesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total audio frames produced by the framer",
		}),
		SpeakingFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_speaking_total",
			Help:      "Total frames flagged as speech",
		}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames sent on the transcription connection",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent on the transcription connection",
		}),
		RecordedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_bytes_total",
			Help:      "Total bytes appended to the playback recording",
		}),

		TierEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_events_total",
			Help:      "Total transcript tier events received",
		}, []string{"tier"}),
		TierEventsIgnored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_events_ignored_total",
			Help:      "Total tier events ignored after finalization",
		}),
		Finalizations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalizations_total",
			Help:      "Total session finalizations by trigger",
		}, []string{"trigger"}),
		MalformedMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Total malformed or unknown socket messages dropped",
		}, []string{"connection"}),

		BroadcastPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_published_total",
			Help:      "Total messages published on the broadcast connection",
		}, []string{"type"}),
		BroadcastReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_received_total",
			Help:      "Total messages received on the broadcast connection",
		}, []string{"type"}),

		AnalysisRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_total",
			Help:      "Total analysis handoff attempts",
		}, []string{"status"}),
		AnalysisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_latency_seconds",
			Help:      "Analysis round-trip latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(failed bool, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if failed {
		m.SessionsFailed.Inc()
	}
}

// RecordFrameCaptured records one framer emission.
func (m *Metrics) RecordFrameCaptured(speaking bool) {
	m.FramesCaptured.Inc()
	if speaking {
		m.SpeakingFrames.Inc()
	}
}

// RecordFrameSent records one frame written to the transcription connection.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSent.Inc()
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordRecordedBytes records bytes appended to the playback recording.
func (m *Metrics) RecordRecordedBytes(bytes int) {
	m.RecordedBytes.Add(float64(bytes))
}

// RecordTierEvent records a received tier event.
func (m *Metrics) RecordTierEvent(tier string) {
	m.TierEvents.WithLabelValues(tier).Inc()
}

// RecordTierEventIgnored records a tier event dropped after finalization.
func (m *Metrics) RecordTierEventIgnored() {
	m.TierEventsIgnored.Inc()
}

// RecordFinalization records a finalization and what triggered it.
func (m *Metrics) RecordFinalization(trigger string) {
	m.Finalizations.WithLabelValues(trigger).Inc()
}

// RecordMalformedMessage records a dropped malformed/unknown message.
func (m *Metrics) RecordMalformedMessage(connection string) {
	m.MalformedMessages.WithLabelValues(connection).Inc()
}

// RecordBroadcastPublished records a published broadcast message.
func (m *Metrics) RecordBroadcastPublished(msgType string) {
	m.BroadcastPublished.WithLabelValues(msgType).Inc()
}

// RecordBroadcastReceived records a received broadcast message.
func (m *Metrics) RecordBroadcastReceived(msgType string) {
	m.BroadcastReceived.WithLabelValues(msgType).Inc()
}

// RecordAnalysis records an analysis attempt.
func (m *Metrics) RecordAnalysis(err error, latencySeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AnalysisRequests.WithLabelValues(status).Inc()
	m.AnalysisLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
