package monitoring

import (
	"time"

	"vitalink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements both the session-side and relay-side metric
// sinks. Register exactly one per process.
type PrometheusCollector struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionDuration  prometheus.Histogram
	linksByState     *prometheus.GaugeVec
	linkTransitions  *prometheus.CounterVec
	envelopesRouted  *prometheus.CounterVec
	envelopesDropped *prometheus.CounterVec
	relayConnections prometheus.Gauge
	recordingBytes   prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vitalink_sessions_active",
			Help: "Number of live consultation sessions",
		}),

		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vitalink_sessions_total",
			Help: "Total number of consultation sessions started",
		}),

		sessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vitalink_session_duration_seconds",
			Help:    "Duration of ended consultation sessions",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		}),

		linksByState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vitalink_links_by_state",
			Help: "Number of peer links per connection state",
		}, []string{"state"}),

		linkTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalink_link_transitions_total",
			Help: "Peer link state transitions",
		}, []string{"from", "to"}),

		envelopesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalink_envelopes_routed_total",
			Help: "Signaling envelopes routed, by type",
		}, []string{"type"}),

		envelopesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalink_envelopes_rejected_total",
			Help: "Signaling envelopes rejected by the relay, by reason",
		}, []string{"reason"}),

		relayConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vitalink_relay_connections",
			Help: "Open websocket connections on the signaling relay",
		}),

		recordingBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vitalink_recording_bytes_total",
			Help: "Total bytes of finalized recording artifacts",
		}),
	}
}

func (p *PrometheusCollector) SessionStarted() {
	p.sessionsActive.Inc()
	p.sessionsTotal.Inc()
}

func (p *PrometheusCollector) SessionEnded(duration time.Duration) {
	p.sessionsActive.Dec()
	p.sessionDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) LinkStateChanged(from, to domain.LinkState) {
	// A link is only counted once it leaves "new", so the first transition
	// has nothing to decrement.
	if from != "" && from != domain.LinkStateNew {
		p.linksByState.WithLabelValues(string(from)).Dec()
	}
	if !to.Terminal() {
		p.linksByState.WithLabelValues(string(to)).Inc()
	}
	p.linkTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (p *PrometheusCollector) EnvelopeRouted(envelopeType domain.EnvelopeType) {
	p.envelopesRouted.WithLabelValues(string(envelopeType)).Inc()
}

func (p *PrometheusCollector) EnvelopeRejected(reason string) {
	p.envelopesDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.relayConnections.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.relayConnections.Dec()
}

func (p *PrometheusCollector) RecordingStopped(bytes int) {
	p.recordingBytes.Add(float64(bytes))
}
