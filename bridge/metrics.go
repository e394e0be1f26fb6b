package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/hubproto"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// Metrics holds Prometheus metrics for the bridge. A nil *Metrics records
// nothing.
type Metrics struct {
	commands   *prometheus.CounterVec
	hubEvents  *prometheus.CounterVec
	broadcasts *prometheus.CounterVec
	recipients prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "Client commands by outcome",
		}, []string{"outcome"}),
		hubEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "bridge",
			Name:      "hub_events_total",
			Help:      "Hub events handled, by event name",
		}, []string{"event"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "bridge",
			Name:      "broadcasts_total",
			Help:      "Downstream broadcasts by event",
		}, []string{"event"}),
		recipients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "bridge",
			Name:      "broadcast_recipients_total",
			Help:      "Client deliveries queued by broadcasts",
		}),
	}

	const component = "bridge"
	for name, c := range map[string]*prometheus.CounterVec{
		"commands_total":   m.commands,
		"hub_events_total": m.hubEvents,
		"broadcasts_total": m.broadcasts,
	} {
		if err := registry.RegisterCounterVec(component, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterCounter(component, "broadcast_recipients_total", m.recipients); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) command(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}

func (m *Metrics) hubEvent(name string) {
	if m == nil {
		return
	}
	switch name {
	case hubproto.EventAccessoriesData, hubproto.EventSetCharacteristicsResult, hubproto.EventAccessoryControlResult:
	default:
		// Forwarded names come from the hub; keep label cardinality bounded.
		name = "other"
	}
	m.hubEvents.WithLabelValues(name).Inc()
}

func (m *Metrics) broadcast(event string, recipients int) {
	if m == nil {
		return
	}
	switch event {
	case EventFullState, EventAccessoryUpdate, EventConnectionStatus:
	default:
		event = "forwarded"
	}
	m.broadcasts.WithLabelValues(event).Inc()
	m.recipients.Add(float64(recipients))
}
