package command

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// DefaultTimeout is how long a write waits for its hub response.
const DefaultTimeout = 10 * time.Second

// Pending is a dispatched write awaiting its hub response.
type Pending struct {
	Key            string
	Origin         string
	Identity       string
	Characteristic string
	AID            int
	IID            int
	Value          accessory.Value
	Frame          string
	CreatedAt      time.Time
}

type entry struct {
	pending Pending
	timer   *time.Timer
}

// Tracker correlates writes with hub responses. It holds at most one entry
// per key. Resolve and the expiry timer race for an entry; whichever removes
// it first reports the outcome and the other does nothing.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	timeout   time.Duration
	onTimeout func(Pending)
	stopped   bool

	logger  *slog.Logger
	metrics *trackerMetrics
	now     func() time.Time
}

// NewTracker creates a tracker. onTimeout runs on the timer goroutine.
func NewTracker(timeout time.Duration, onTimeout func(Pending), registry *metric.MetricsRegistry, logger *slog.Logger) (*Tracker, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if onTimeout == nil {
		onTimeout = func(Pending) {}
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newTrackerMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "Tracker", "NewTracker", "register metrics")
	}

	return &Tracker{
		entries:   make(map[string]*entry),
		timeout:   timeout,
		onTimeout: onTimeout,
		logger:    logger.With("component", "pending-tracker"),
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// Register records p and starts its expiry timer. An existing entry with the
// same key is replaced and its timer stopped; superseded reports that case.
func (t *Tracker) Register(p Pending) (superseded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return false
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now()
	}

	if prev, ok := t.entries[p.Key]; ok {
		prev.timer.Stop()
		superseded = true
		t.metrics.record("superseded")
		t.logger.Debug("Pending command superseded", "key", p.Key, "previous_origin", prev.pending.Origin)
	}

	e := &entry{pending: p}
	e.timer = time.AfterFunc(t.timeout, func() { t.expire(p.Key, e) })
	t.entries[p.Key] = e
	t.metrics.setPending(len(t.entries))

	return superseded
}

// Resolve removes and returns the entry for key.
func (t *Tracker) Resolve(key string) (Pending, bool) {
	p, ok := t.remove(key)
	if ok {
		t.metrics.record("resolved")
	}
	return p, ok
}

// Cancel removes the entry for key without reporting an outcome.
func (t *Tracker) Cancel(key string) bool {
	_, ok := t.remove(key)
	if ok {
		t.metrics.record("cancelled")
	}
	return ok
}

func (t *Tracker) remove(key string) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return Pending{}, false
	}
	e.timer.Stop()
	delete(t.entries, key)
	t.metrics.setPending(len(t.entries))
	return e.pending, true
}

func (t *Tracker) expire(key string, e *entry) {
	t.mu.Lock()
	current, ok := t.entries[key]
	if !ok || current != e {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.metrics.setPending(len(t.entries))
	t.mu.Unlock()

	t.metrics.record("timeout")
	t.logger.Info("Command timed out",
		"key", key,
		"identity", e.pending.Identity,
		"characteristic", e.pending.Characteristic,
		"waited", t.now().Sub(e.pending.CreatedAt))

	t.onTimeout(e.pending)
}

// Len returns the number of pending entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stop cancels every timer and refuses further registrations.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
	t.metrics.setPending(0)
}

type trackerMetrics struct {
	pending     prometheus.Gauge
	resolutions *prometheus.CounterVec
}

func newTrackerMetrics(registry *metric.MetricsRegistry) (*trackerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &trackerMetrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "commands",
			Name:      "pending",
			Help:      "Writes awaiting a hub response",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "commands",
			Name:      "pending_removed_total",
			Help:      "Pending entries removed, by reason",
		}, []string{"reason"}),
	}

	if err := registry.RegisterGauge("pending-tracker", "pending", m.pending); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("pending-tracker", "pending_removed_total", m.resolutions); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *trackerMetrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *trackerMetrics) record(reason string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(reason).Inc()
}
