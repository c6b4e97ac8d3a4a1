// Package metrics exposes the development server's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dmsync"

// Metrics holds the server's collectors on a private registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	messages     prometheus.Counter
	created      prometheus.Counter
	deleted      prometheus.Counter
	pushSockets  prometheus.Gauge
	pushDropped  prometheus.Counter
	pushRejected prometheus.Counter
}

// New registers a fresh set of collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"method", "route"}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "messages_sent_total",
			Help:      "Messages accepted by the server.",
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conversations_created_total",
			Help:      "Conversations created by a first message.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conversations_deleted_total",
			Help:      "Conversations deleted by a participant.",
		}),
		pushSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "sockets",
			Help:      "Push sockets currently registered.",
		}),
		pushDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "frames_dropped_total",
			Help:      "Push frames dropped because a socket's buffer was full.",
		}),
		pushRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "handshakes_rejected_total",
			Help:      "Push sockets closed before a valid announcePresence.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.messages,
		m.created,
		m.deleted,
		m.pushSockets,
		m.pushDropped,
		m.pushRejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one handled request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(took.Seconds())
}

// MessageSent counts a stored message.
func (m *Metrics) MessageSent(createdConversation bool) {
	if m == nil {
		return
	}
	m.messages.Inc()
	if createdConversation {
		m.created.Inc()
	}
}

// ConversationDeleted counts a deleted conversation.
func (m *Metrics) ConversationDeleted() {
	if m == nil {
		return
	}
	m.deleted.Inc()
}

// SocketOpened and SocketClosed track registered push sockets.
func (m *Metrics) SocketOpened() {
	if m != nil {
		m.pushSockets.Inc()
	}
}

func (m *Metrics) SocketClosed() {
	if m != nil {
		m.pushSockets.Dec()
	}
}

// FrameDropped counts a frame not delivered to a slow socket.
func (m *Metrics) FrameDropped() {
	if m != nil {
		m.pushDropped.Inc()
	}
}

// HandshakeRejected counts a socket refused during announcePresence.
func (m *Metrics) HandshakeRejected() {
	if m != nil {
		m.pushRejected.Inc()
	}
}
