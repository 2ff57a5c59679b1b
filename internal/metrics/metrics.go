// Package metrics holds the Prometheus collectors of the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cowatch"

const (
	DropRateLimited = "rate_limited"
	DropQueueFull   = "queue_full"
	DropPublish     = "publish_failed"
)

type StatsFunc func() (rooms, members int)

// Metrics is safe to use through a nil pointer, which records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	relayed   *prometheus.CounterVec
	fanout    prometheus.Histogram
	malformed prometheus.Counter
	dropped   *prometheus.CounterVec
	remote    prometheus.Counter
	rejected  prometheus.Counter
}

func New(stats StatsFunc) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages accepted from sessions and relayed to their room.",
		}, []string{"type"}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_recipients",
			Help:      "Local recipients per relayed message.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Inbound frames discarded as malformed or unknown.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped before delivery.",
		}, []string{"reason"}),
		remote: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_remote_total",
			Help:      "Messages received from other nodes over the channel layer.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_rejected_total",
			Help:      "Joins rejected because the room was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.relayed,
		m.fanout,
		m.malformed,
		m.dropped,
		m.remote,
		m.rejected,
	)

	if stats != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rooms_active",
				Help:      "Rooms with at least one member on this node.",
			}, func() float64 {
				rooms, _ := stats()
				return float64(rooms)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Sessions joined to a room on this node.",
			}, func() float64 {
				_, members := stats()
				return float64(members)
			}),
		)
	}

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Relayed(msgType string, recipients int) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(msgType).Inc()
	m.fanout.Observe(float64(recipients))
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Remote() {
	if m == nil {
		return
	}
	m.remote.Inc()
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}
