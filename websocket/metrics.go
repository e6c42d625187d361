package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "help_chat_ws_connections",
			Help: "Current number of active websocket connections.",
		},
	)
	wsSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "help_chat_ws_subscriptions",
			Help: "Current number of admin connections subscribed to a conversation.",
		},
	)
	wsEventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "help_chat_ws_events_delivered_total",
			Help: "Total websocket events delivered to clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsSubscriptions, wsEventsDelivered)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func setSubscriptions(count int) {
	wsSubscriptions.Set(float64(count))
}

func addDelivered(count int) {
	if count > 0 {
		wsEventsDelivered.Add(float64(count))
	}
}
