package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slidesync"

// Collector holds the room counters. A nil *Collector is valid and records nothing.
type Collector struct {
	registry   *prometheus.Registry
	rooms      prometheus.Gauge
	clients    prometheus.Gauge
	broadcasts *prometheus.CounterVec
	dropped    prometheus.Counter
	reaped     prometheus.Counter
	replays    *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms currently registered.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients",
			Help:      "Clients currently attached to a room.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages broadcast to rooms, by message type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Messages evicted from a lagging subscriber queue.",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_reaped_total",
			Help:      "Idle rooms removed by the janitor.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Recording replays, by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.rooms, c.clients, c.broadcasts, c.dropped, c.reaped, c.replays,
	)
	return c
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RoomOpened() {
	if c != nil {
		c.rooms.Inc()
	}
}

func (c *Collector) RoomClosed() {
	if c != nil {
		c.rooms.Dec()
	}
}

func (c *Collector) RoomsReaped(n int) {
	if c != nil {
		c.reaped.Add(float64(n))
	}
}

func (c *Collector) ClientJoined() {
	if c != nil {
		c.clients.Inc()
	}
}

func (c *Collector) ClientLeft() {
	if c != nil {
		c.clients.Dec()
	}
}

func (c *Collector) Broadcast(kind string) {
	if c != nil {
		c.broadcasts.WithLabelValues(kind).Inc()
	}
}

func (c *Collector) Dropped() {
	if c != nil {
		c.dropped.Inc()
	}
}

func (c *Collector) Replay(outcome string) {
	if c != nil {
		c.replays.WithLabelValues(outcome).Inc()
	}
}
