package metrics

import "github.com/prometheus/client_golang/prometheus"

// Invocation results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// LedgerMetrics tracks ledger invocations handled by the service.
type LedgerMetrics struct {
	Invocations     *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	TxConflicts     *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	Coalesced       prometheus.Counter
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "invocations_total",
			Help:      "Total number of ledger invocations, by kind, message and result.",
		}, []string{"kind", "message", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of ledger invocations including commit, by kind.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"kind"}),
		TxConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tx_conflicts_total",
			Help:      "Total number of transactions retried after a write conflict, by backend.",
		}, []string{"backend"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_published_total",
			Help:      "Total number of domain events published, by type and result.",
		}, []string{"type", "result"}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "instantiate_checks_coalesced_total",
			Help:      "Total number of boot-time instantiation checks answered by an in-flight identical check.",
		}),
	}

	reg.MustRegister(m.Invocations, m.Duration, m.TxConflicts, m.EventsPublished, m.Coalesced)
	return m
}

// ObserveConflict satisfies the conflict observer used by the redis and
// postgres stores.
func (m *LedgerMetrics) ObserveConflict(backend string) {
	m.TxConflicts.WithLabelValues(backend).Inc()
}
