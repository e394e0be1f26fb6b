package http

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

type gatewayMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(registry *metric.MetricsRegistry) (*gatewayMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &gatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "inspect",
			Name:      "requests_total",
			Help:      "Inspection requests by route and status code",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "inspect",
			Name:      "request_duration_seconds",
			Help:      "Inspection request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	if err := registry.RegisterCounterVec("inspect", "requests_total", m.requests); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("inspect", "request_duration_seconds", m.duration); err != nil {
		return nil, err
	}
	return m, nil
}
