package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of every layer. A nil *Metrics is valid and
// records nothing, so layers can be built without one.
type Metrics struct {
	registry *prometheus.Registry

	txCreated      *prometheus.CounterVec
	txActive       prometheus.Gauge
	txTransitions  *prometheus.CounterVec
	retransmits    *prometheus.CounterVec
	timeouts       *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	dialogsCreated *prometheus.CounterVec
	dialogsActive  prometheus.Gauge
	dialogStates   *prometheus.CounterVec
	requests       *prometheus.CounterVec
	processing     *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		txCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transaction", Name: "created_total",
			Help: "Transactions created, by kind.",
		}, []string{"kind"}),
		txActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "transaction", Name: "active",
			Help: "Transactions currently in the table.",
		}),
		txTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transaction", Name: "transitions_total",
			Help: "Transaction state changes, by kind and target state.",
		}, []string{"kind", "state"}),
		retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transaction", Name: "retransmissions_total",
			Help: "Messages re-sent by transactions, by kind.",
		}, []string{"kind"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transaction", Name: "timeouts_total",
			Help: "Transactions terminated by a timeout timer, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_messages_total",
			Help: "Messages dropped, by reason.",
		}, []string{"reason"}),
		dialogsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dialog", Name: "created_total",
			Help: "Dialogs created, by flow.",
		}, []string{"flow"}),
		dialogsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dialog", Name: "active",
			Help: "Dialogs currently in the table.",
		}),
		dialogStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dialog", Name: "transitions_total",
			Help: "Dialog state changes, by target state.",
		}, []string{"state"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "processor", Name: "requests_total",
			Help: "Requests dispatched to processors, by method and status class.",
		}, []string{"method", "class"}),
		processing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "processor", Name: "duration_seconds",
			Help:    "Processor handling time, by processor kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.txCreated, m.txActive, m.txTransitions, m.retransmits, m.timeouts, m.dropped,
		m.dialogsCreated, m.dialogsActive, m.dialogStates, m.requests, m.processing,
	)

	return m
}

// Registry exposes the underlying registry, e.g. to add process collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TransactionCreated(kind string) {
	if m == nil {
		return
	}
	m.txCreated.WithLabelValues(kind).Inc()
	m.txActive.Inc()
}

func (m *Metrics) TransactionRemoved() {
	if m == nil {
		return
	}
	m.txActive.Dec()
}

func (m *Metrics) TransactionState(kind, state string) {
	if m == nil {
		return
	}
	m.txTransitions.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) Retransmission(kind string) {
	if m == nil {
		return
	}
	m.retransmits.WithLabelValues(kind).Inc()
}

func (m *Metrics) Timeout(kind string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(kind).Inc()
}

// Dropped counts a discarded message: parse_error, unmatched_response,
// unmatched_ack, mailbox_full, queue_full.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) DialogCreated(flow string) {
	if m == nil {
		return
	}
	m.dialogsCreated.WithLabelValues(flow).Inc()
	m.dialogsActive.Inc()
}

func (m *Metrics) DialogRemoved() {
	if m == nil {
		return
	}
	m.dialogsActive.Dec()
}

func (m *Metrics) DialogState(state string) {
	if m == nil {
		return
	}
	m.dialogStates.WithLabelValues(state).Inc()
}

func (m *Metrics) Request(method string, status int) {
	if m == nil {
		return
	}
	class := "error"
	if status >= 100 && status < 700 {
		class = string(rune('0'+status/100)) + "xx"
	}
	m.requests.WithLabelValues(method, class).Inc()
}

func (m *Metrics) Processed(kind string, since time.Time) {
	if m == nil {
		return
	}
	m.processing.WithLabelValues(kind).Observe(time.Since(since).Seconds())
}
