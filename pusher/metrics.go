package pusher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	channels     prometheus.Gauge
	listeners    prometheus.Gauge
	subscribes   prometheus.Counter
	unsubscribes prometheus.Counter
	deliveries   prometheus.Counter
	stale        prometheus.Counter
}

// NewMetrics registers the manager metrics with reg. A nil reg uses a
// private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		channels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pusher",
			Name:      "channels_active",
			Help:      "Channels currently subscribed",
		}),
		listeners: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pusher",
			Name:      "listeners_active",
			Help:      "Listeners currently bound through the manager",
		}),
		subscribes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pusher",
			Name:      "subscribes_total",
			Help:      "Transport subscribe calls",
		}),
		unsubscribes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pusher",
			Name:      "unsubscribes_total",
			Help:      "Transport unsubscribe calls",
		}),
		deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pusher",
			Name:      "deliveries_deferred_total",
			Help:      "Events queued on the host for a listener",
		}),
		stale: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pusher",
			Name:      "deliveries_stale_total",
			Help:      "Queued events dropped because their listener was removed",
		}),
	}
}

func (m *Metrics) channelSubscribed() {
	m.subscribes.Inc()
	m.channels.Inc()
}

func (m *Metrics) channelUnsubscribed() {
	m.unsubscribes.Inc()
	m.channels.Dec()
}

func (m *Metrics) listenerAdded() {
	m.listeners.Inc()
}

func (m *Metrics) listenerRemoved() {
	m.listeners.Dec()
}

func (m *Metrics) deliveryDeferred() {
	m.deliveries.Inc()
}

func (m *Metrics) deliveryStale() {
	m.stale.Inc()
}
