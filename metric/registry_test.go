package metric

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())

	registry.CoreMetrics().RecordServiceStatus("bridge", StatusRunning)
	names := gatheredNames(t, registry)
	assert.True(t, names["rtiproxy_service_status"])
	assert.True(t, names["go_goroutines"])
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	require.NoError(t, registry.RegisterCounter("test-service", "test_counter", counter))

	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["test_counter"])
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}

func TestMetricsRegistry_RegisterVectors(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "c"}, []string{"kind"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "g"}, []string{"kind"})
	histVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_hist_vec", Help: "h"}, []string{"kind"})

	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterCounterVec("svc", "test_counter_vec", counterVec))
	require.NoError(t, registry.RegisterGaugeVec("svc", "test_gauge_vec", gaugeVec))
	require.NoError(t, registry.RegisterHistogramVec("svc", "test_hist_vec", histVec))

	gauge.Set(3)
	counterVec.WithLabelValues("a").Inc()
	gaugeVec.WithLabelValues("a").Set(1)
	histVec.WithLabelValues("a").Observe(0.2)

	names := gatheredNames(t, registry)
	for _, name := range []string{"test_gauge", "test_counter_vec", "test_gauge_vec", "test_hist_vec"} {
		assert.True(t, names[name], name)
	}
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "x"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "x"})

	require.NoError(t, registry.RegisterCounter("svc", "dup", first))

	err := registry.RegisterCounter("svc", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = registry.RegisterCounter("other", "dup", second)
	require.Error(t, err, "prometheus rejects the same fully-qualified name")
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_counter", Help: "x"})
	require.NoError(t, registry.RegisterCounter("svc", "gone", counter))

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))
	assert.False(t, gatheredNames(t, registry)["gone_counter"])

	require.NoError(t, registry.RegisterCounter("svc", "gone", counter), "name is free again")
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: "race_counter", Help: "x"})
			errs <- registry.RegisterCounter("svc", "race", c)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestCoreMetrics_Recorders(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordError("hub-link", "auth")
	m.RecordError("hub-link", "auth")
	m.RecordHealthStatus("hub-link", true)
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.RecordNATSPublish(true)
	m.RecordNATSPublish(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("hub-link", "auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("hub-link")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSPublished.WithLabelValues("error")))
}

func TestHandler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordError("bridge", "frame_parse")

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `rtiproxy_errors_total{service="bridge",type="frame_parse"} 1`))
}
