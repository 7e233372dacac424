package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Wire metrics
	PacketsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanchat_packets_received_total",
			Help: "Total number of datagrams received by packet type",
		},
		[]string{"type"},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lanchat_sessions_active",
			Help: "Number of currently established secure sessions",
		},
	)

	HandshakesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lanchat_handshakes_started_total",
			Help: "Total number of fresh handshakes initiated locally",
		},
	)

	HandshakesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanchat_handshakes_completed_total",
			Help: "Total number of completed handshakes by local role",
		},
		[]string{"role"},
	)

	HandshakesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lanchat_handshakes_failed_total",
			Help: "Total number of handshakes aborted on certificate decryption failure",
		},
	)

	ReconnectTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lanchat_reconnect_timeouts_total",
			Help: "Total number of session resumptions that timed out",
		},
	)

	// Message metrics
	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lanchat_messages_sent_total",
			Help: "Total number of encrypted messages transmitted",
		},
	)

	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lanchat_messages_received_total",
			Help: "Total number of encrypted messages decrypted and delivered",
		},
	)

	AcksReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lanchat_acks_received_total",
			Help: "Total number of acknowledgements received",
		},
	)

	MessagesDemoted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lanchat_messages_demoted_total",
			Help: "Total number of ack-timeout sweeps that demoted a contact's sent messages back to pending",
		},
	)

	PendingFlushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lanchat_pending_flushes_total",
			Help: "Total number of pending-message flushes performed",
		},
	)

	// Store metrics
	ContactsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lanchat_contacts_total",
			Help: "Total number of contacts in the encrypted store",
		},
	)

	MessagesPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lanchat_messages_pending",
			Help: "Number of messages currently queued in status pending",
		},
	)

	MessagesUnread = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lanchat_messages_unread",
			Help: "Number of received messages not yet read",
		},
	)

	StorePersistDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lanchat_store_persist_duration_seconds",
			Help:    "Time to re-encrypt and rewrite the database blob",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

func init() {
	prometheus.MustRegister(PacketsReceived)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(HandshakesStarted)
	prometheus.MustRegister(HandshakesCompleted)
	prometheus.MustRegister(HandshakesFailed)
	prometheus.MustRegister(ReconnectTimeouts)
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(AcksReceived)
	prometheus.MustRegister(MessagesDemoted)
	prometheus.MustRegister(PendingFlushes)
	prometheus.MustRegister(ContactsTotal)
	prometheus.MustRegister(MessagesPending)
	prometheus.MustRegister(MessagesUnread)
	prometheus.MustRegister(StorePersistDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
