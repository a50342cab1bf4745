package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AMQPMetrics counts command deliveries consumed from the broker.
type AMQPMetrics struct {
	Deliveries *prometheus.CounterVec
}

func NewAMQPMetrics(reg prometheus.Registerer) *AMQPMetrics {
	return &AMQPMetrics{
		Deliveries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "amqp",
			Name:      "deliveries_total",
			Help:      "Total number of consumed deliveries, by outcome (ack, reject, requeue).",
		}, []string{"outcome"}),
	}
}
