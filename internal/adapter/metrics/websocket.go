package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics covers the live tally feed served by the hub.
type WebSocketMetrics struct {
	ActiveConnections  prometheus.Gauge
	WatchedQuestions   prometheus.Gauge
	MessagesPublished  prometheus.Counter
	SlowClientsEvicted prometheus.Counter
	ConnectionsRefused prometheus.Counter
}

func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "feed", Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "feed", Name: name, Help: help})
	}

	m := &WebSocketMetrics{
		ActiveConnections:  gauge("connections", "Feed clients currently subscribed."),
		WatchedQuestions:   gauge("questions", "Distinct questions with at least one subscriber."),
		MessagesPublished:  counter("tally_updates_total", "Tally updates fanned out to subscribers of a question."),
		SlowClientsEvicted: counter("slow_clients_evicted_total", "Clients dropped because their send buffer was full."),
		ConnectionsRefused: counter("connections_refused_total", "Subscriptions refused at the instance connection cap."),
	}

	reg.MustRegister(m.ActiveConnections, m.WatchedQuestions, m.MessagesPublished, m.SlowClientsEvicted, m.ConnectionsRefused)
	return m
}
