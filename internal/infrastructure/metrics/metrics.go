package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "visper_relay"

// Metrics groups the relay collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	gatherer prometheus.Gatherer

	tasksEnqueued  prometheus.Counter
	tasksProcessed *prometheus.CounterVec
	haltedRooms    prometheus.Gauge
	taskDuration   prometheus.Histogram

	published *prometheus.CounterVec
	consumed  *prometheus.CounterVec

	rpcDuration *prometheus.HistogramVec
	rpcTimeouts *prometheus.CounterVec

	sockets prometheus.Gauge
	packets *prometheus.CounterVec
	dropped prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registerer.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		tasksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "tasks_enqueued_total",
			Help:      "Tasks appended to a room queue.",
		}),
		tasksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "tasks_processed_total",
			Help:      "Tasks processed, by result.",
		}, []string{"result"}),
		haltedRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "halted_rooms",
			Help:      "Rooms whose queue stopped on a failing task.",
		}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "task_duration_seconds",
			Help:      "Time spent processing one task.",
			Buckets:   prometheus.DefBuckets,
		}),
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "published_total",
			Help:      "Messages published, by exchange and result.",
		}, []string{"exchange", "result"}),
		consumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "consumed_total",
			Help:      "Deliveries handled, by queue and outcome (ack, nack, auto).",
		}, []string{"queue", "outcome"}),
		rpcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "request_duration_seconds",
			Help:      "Round trip of request/reply calls.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"topic"}),
		rpcTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "request_timeouts_total",
			Help:      "Requests that got no reply in time.",
		}, []string{"topic"}),
		sockets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "connected_sockets",
			Help:      "Sockets registered on this instance.",
		}),
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "packets_total",
			Help:      "Fan-out packets, by direction (out, in).",
		}, []string{"direction"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "dropped_emits_total",
			Help:      "Emits dropped because a socket send buffer was full.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskEnqueued() {
	if m == nil {
		return
	}
	m.tasksEnqueued.Inc()
}

func (m *Metrics) TaskProcessed(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.taskDuration.Observe(d.Seconds())
	m.tasksProcessed.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) SetHaltedRooms(n int) {
	if m == nil {
		return
	}
	m.haltedRooms.Set(float64(n))
}

func (m *Metrics) Published(exchange string, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(exchange, result(err)).Inc()
}

func (m *Metrics) Consumed(queue, outcome string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(queue, outcome).Inc()
}

func (m *Metrics) RequestObserved(topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func (m *Metrics) RequestTimedOut(topic string) {
	if m == nil {
		return
	}
	m.rpcTimeouts.WithLabelValues(topic).Inc()
}

func (m *Metrics) SocketConnected() {
	if m == nil {
		return
	}
	m.sockets.Inc()
}

func (m *Metrics) SocketDisconnected() {
	if m == nil {
		return
	}
	m.sockets.Dec()
}

func (m *Metrics) PacketSent() {
	if m == nil {
		return
	}
	m.packets.WithLabelValues("out").Inc()
}

func (m *Metrics) PacketReceived() {
	if m == nil {
		return
	}
	m.packets.WithLabelValues("in").Inc()
}

func (m *Metrics) EmitDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
