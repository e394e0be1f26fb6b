package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/health"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

const twoLights = `[
 {"uniqueId":"lamp-1","aid":2,"iid":1,"type":"Lightbulb","humanType":"Lightbulb","serviceName":"Desk <Lamp>",
  "serviceCharacteristics":[{"aid":2,"iid":10,"type":"On","format":"bool","value":true,"perms":["pr","pw"]}]},
 {"uniqueId":"fan-1","aid":3,"iid":1,"type":"Fan","serviceName":"Ceiling Fan",
  "serviceCharacteristics":[{"aid":3,"iid":10,"type":"On","format":"bool","value":false,"perms":["pr","pw"]}]}
]`

func newTestGateway(t *testing.T, cfg Config) (*Gateway, *accessory.Store, *health.Monitor, *metric.MetricsRegistry) {
	t.Helper()

	registry := metric.NewMetricsRegistry()
	store, err := accessory.NewStore(accessory.Config{}, nil, nil)
	require.NoError(t, err)
	monitor := health.NewMonitor()

	g, err := NewGateway(cfg, store, monitor, registry, nil)
	require.NoError(t, err)
	return g, store, monitor, registry
}

func serve(g *Gateway, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestAccessories_NoData(t *testing.T) {
	g, _, _, _ := newTestGateway(t, DefaultConfig())

	rec := serve(g, http.MethodGet, "/accessories")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"No accessory data yet. Please try again shortly."}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(g, http.MethodGet, "/accessories/table")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>No accessory data yet.</h1>", rec.Body.String())
}

func TestAccessories_Snapshot(t *testing.T) {
	g, store, _, _ := newTestGateway(t, DefaultConfig())
	_, err := store.Apply(json.RawMessage(twoLights))
	require.NoError(t, err)

	rec := serve(g, http.MethodGet, "/accessories")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Accessories []accessory.Accessory `json:"accessories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Accessories, 2)
	assert.Equal(t, "lamp-1", body.Accessories[0].Identity)
	assert.Equal(t, "fan-1", body.Accessories[1].Identity)
}

func TestAccessories_RawFallback(t *testing.T) {
	g, store, _, _ := newTestGateway(t, DefaultConfig())
	_, err := store.Apply(json.RawMessage(`"garbage"`))
	require.Error(t, err)

	rec := serve(g, http.MethodGet, "/accessories")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accessories":"garbage"}`, rec.Body.String())
}

func TestAccessoriesTable_Escapes(t *testing.T) {
	g, store, _, _ := newTestGateway(t, DefaultConfig())
	_, err := store.Apply(json.RawMessage(twoLights))
	require.NoError(t, err)

	rec := serve(g, http.MethodGet, "/accessories/table")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	assert.Contains(t, body, "<td>lamp-1</td><td>Lightbulb</td><td>Lightbulb</td><td>Desk &lt;Lamp&gt;</td>")
	assert.Contains(t, body, "<td>fan-1</td><td>Fan</td><td></td><td>Ceiling Fan</td>")
	assert.NotContains(t, body, "<Lamp>")
}

func TestHealth(t *testing.T) {
	g, _, monitor, _ := newTestGateway(t, DefaultConfig())

	monitor.UpdateHealthy("hub-link", "open")
	monitor.UpdateDegraded("bridge", "waiting for accessory state")

	rec := serve(g, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, SystemName, status.Component)
	assert.True(t, status.IsDegraded())

	monitor.Register("hub-link", func() health.Status {
		return health.NewUnhealthy("hub-link", "closed")
	})
	rec = serve(g, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus(t *testing.T) {
	g, _, _, _ := newTestGateway(t, DefaultConfig())
	g.RegisterStatus("bridge", func() any {
		return map[string]int{"clients": 2}
	})
	g.RegisterStatus("link", func() any {
		return map[string]string{"state": "open"}
	})

	rec := serve(g, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bridge":{"clients":2},"link":{"state":"open"}}`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	g, _, _, _ := newTestGateway(t, DefaultConfig())

	// one instrumented request so the inspect counter has a sample
	serve(g, http.MethodGet, "/status")

	rec := serve(g, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rtiproxy_inspect_requests_total{code="200",route="status"} 1`)
}

func TestMethodAndNotFound(t *testing.T) {
	g, _, _, _ := newTestGateway(t, DefaultConfig())

	rec := serve(g, http.MethodPost, "/accessories")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(g, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableCORS = true
	cfg.CORSOrigins = []string{"http://panel.local"}
	g, _, _, _ := newTestGateway(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/accessories", nil)
	req.Header.Set("Origin", "http://panel.local")
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://panel.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://elsewhere")
	rec = httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagates(t *testing.T) {
	g, _, _, _ := newTestGateway(t, DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(DefaultConfig(), nil, nil, nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Port = 70000
	store, err := accessory.NewStore(accessory.Config{}, nil, nil)
	require.NoError(t, err)
	_, err = NewGateway(cfg, store, nil, nil, nil)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	g, _, _, _ := newTestGateway(t, cfg)

	require.NoError(t, g.Start(context.Background()))
	assert.Error(t, g.Start(context.Background()))

	resp, err := http.Get(fmt.Sprintf("http://%s/health", g.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), SystemName))

	require.NoError(t, g.Stop(time.Second))
	require.NoError(t, g.Stop(time.Second))
}
