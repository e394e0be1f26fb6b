// Package metric holds the proxy's Prometheus registry.
//
// MetricsRegistry owns a private prometheus.Registry carrying the core
// process metrics (service status, error counts, health, NATS mirror state)
// plus the Go runtime and process collectors. Components register their own
// metric sets through the MetricsRegistrar methods, keyed by component and
// metric name so a duplicate registration is reported as an Invalid error
// rather than a panic:
//
//	registry := metric.NewMetricsRegistry()
//	frames := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: metric.Namespace,
//	    Subsystem: "hub_link",
//	    Name:      "frames_received_total",
//	}, []string{"kind"})
//	if err := registry.RegisterCounterVec("hub-link", "frames_received_total", frames); err != nil {
//	    return err
//	}
//
// Handler exposes the registry for the inspection server's /metrics route.
package metric
