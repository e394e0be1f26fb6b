package hublink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// Metrics holds Prometheus metrics for the hub link
type Metrics struct {
	frames       *prometheus.CounterVec
	framesSent   prometheus.Counter
	attempts     prometheus.Counter
	connected    prometheus.Gauge
	forcedCloses *prometheus.CounterVec
	errors       *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub_link",
			Name:      "frames_received_total",
			Help:      "Frames received from the hub, by kind",
		}, []string{"kind"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub_link",
			Name:      "frames_sent_total",
			Help:      "Frames written to the hub",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub_link",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts, including the first",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub_link",
			Name:      "connected",
			Help:      "1 while the hub link is open",
		}),
		forcedCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub_link",
			Name:      "forced_reconnects_total",
			Help:      "Reconnections forced by commands or the health monitor",
		}, []string{"reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "hub_link",
			Name:      "errors_total",
			Help:      "Link errors by type",
		}, []string{"type"}),
	}

	const component = "hub-link"
	for name, c := range map[string]*prometheus.CounterVec{
		"frames_received_total":   m.frames,
		"forced_reconnects_total": m.forcedCloses,
		"errors_total":            m.errors,
	} {
		if err := registry.RegisterCounterVec(component, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterCounter(component, "frames_sent_total", m.framesSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "connect_attempts_total", m.attempts); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(component, "connected", m.connected); err != nil {
		return nil, err
	}
	return m, nil
}
