package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "datafeed"

var (
	TicksDecoded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_decoded_total",
		Help:      "Ticks decoded from the upstream stream.",
	})

	TicksUnrouted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_unrouted_total",
		Help:      "Ticks for instruments without subscription.",
	})

	BarsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bars_delivered_total",
		Help:      "Bar updates handed to listeners.",
	})

	ListenerPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listener_panics_total",
		Help:      "Listener callbacks that panicked during fan-out.",
	})

	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_connect_attempts_total",
		Help:      "Upstream connection attempts by result.",
	}, []string{"result"})

	StreamState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_state",
		Help:      "Current stream supervisor state (0 idle, 1 connecting, 2 streaming, 3 reconnect pending, 4 exhausted).",
	})

	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscriptions",
		Help:      "Active instrument subscriptions.",
	})
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		TicksDecoded,
		TicksUnrouted,
		BarsDelivered,
		ListenerPanics,
		ConnectAttempts,
		StreamState,
		Subscriptions,
	}
}

func InitMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Collectors()...)
}
