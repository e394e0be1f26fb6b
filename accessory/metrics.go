package accessory

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

type storeMetrics struct {
	loads       *prometheus.CounterVec
	deltas      prometheus.Counter
	skipped     prometheus.Counter
	accessories prometheus.Gauge
}

// newStoreMetrics returns nil when registry is nil; all recorders accept a nil receiver.
func newStoreMetrics(registry *metric.MetricsRegistry) (*storeMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &storeMetrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "loads_total",
			Help:      "accessories-data payloads applied, by load mode and result",
		}, []string{"mode", "result"}),
		deltas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "deltas_total",
			Help:      "Characteristic deltas produced by diffing",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "skipped_total",
			Help:      "Accessories or characteristics skipped as malformed",
		}),
		accessories: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "accessories",
			Help:      "Accessories in the current snapshot",
		}),
	}

	if err := registry.RegisterCounterVec("accessory-store", "loads_total", m.loads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("accessory-store", "deltas_total", m.deltas); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("accessory-store", "skipped_total", m.skipped); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("accessory-store", "accessories", m.accessories); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *storeMetrics) recordLoad(mode, result string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(mode, result).Inc()
}

func (m *storeMetrics) recordApply(r Result) {
	if m == nil {
		return
	}
	result := "applied"
	if r.Redundant {
		result = "redundant"
	}
	m.loads.WithLabelValues(r.Mode.String(), result).Inc()
	m.deltas.Add(float64(len(r.Deltas)))
	m.skipped.Add(float64(r.Skipped))
	m.accessories.Set(float64(r.Accessories))
}
