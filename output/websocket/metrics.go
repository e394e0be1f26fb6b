package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// Metrics holds Prometheus metrics for the downstream server
type Metrics struct {
	clientsConnected prometheus.Gauge
	connections      prometheus.Counter
	dropped          *prometheus.CounterVec
	sent             prometheus.Counter
	bytesSent        prometheus.Counter
	received         prometheus.Counter
	rejected         *prometheus.CounterVec
	errors           *prometheus.CounterVec
}

// newMetrics returns nil when registry is nil.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "clients_dropped_total",
			Help:      "Client removals by reason",
		}, []string{"reason"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "messages_sent_total",
			Help:      "Messages written to clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to clients",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "messages_received_total",
			Help:      "Messages read from clients",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "messages_rejected_total",
			Help:      "Inbound messages rejected before dispatch",
		}, []string{"reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "errors_total",
			Help:      "Downstream server errors",
		}, []string{"error_type"}),
	}

	const component = "fanout"
	if err := registry.RegisterGauge(component, "clients_connected", m.clientsConnected); err != nil {
		return nil, err
	}
	for name, c := range map[string]prometheus.Counter{
		"client_connections_total": m.connections,
		"messages_sent_total":      m.sent,
		"bytes_sent_total":         m.bytesSent,
		"messages_received_total":  m.received,
	} {
		if err := registry.RegisterCounter(component, name, c); err != nil {
			return nil, err
		}
	}
	for name, c := range map[string]*prometheus.CounterVec{
		"clients_dropped_total":   m.dropped,
		"messages_rejected_total": m.rejected,
		"errors_total":            m.errors,
	} {
		if err := registry.RegisterCounterVec(component, name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
