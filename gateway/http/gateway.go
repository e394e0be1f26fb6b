package http

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/health"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

// SystemName labels the aggregated health document.
const SystemName = "rti-proxy"

// Snapshots publishes immutable accessory views.
type Snapshots interface {
	View() *accessory.View
}

// Gateway serves the inspection routes.
type Gateway struct {
	cfg      Config
	store    Snapshots
	monitor  *health.Monitor
	registry *metric.MetricsRegistry
	metrics  *gatewayMetrics
	logger   *slog.Logger

	statusMu sync.RWMutex
	statuses map[string]func() any

	lifecycleMu sync.Mutex
	listener    net.Listener
	server      *http.Server
	wg          sync.WaitGroup
}

// NewGateway creates the inspection gateway. monitor and registry may be
// nil, in which case /health reports healthy and /metrics is not routed.
func NewGateway(cfg Config, store Snapshots, monitor *health.Monitor, registry *metric.MetricsRegistry, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "NewGateway", "accessory store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(registry)
	if err != nil {
		return nil, errors.Wrap(err, "Gateway", "NewGateway", "register metrics")
	}

	return &Gateway{
		cfg:      cfg,
		store:    store,
		monitor:  monitor,
		registry: registry,
		metrics:  metrics,
		logger:   logger.With("component", "inspect"),
		statuses: make(map[string]func() any),
	}, nil
}

// RegisterStatus adds a named document to /status. fn must not block.
func (g *Gateway) RegisterStatus(name string, fn func() any) {
	g.statusMu.Lock()
	defer g.statusMu.Unlock()
	g.statuses[name] = fn
}

// Router builds the route table.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	if g.cfg.EnableCORS {
		r.Use(g.corsMiddleware)
	}

	g.handle(r, "/accessories", "accessories", g.handleAccessories)
	g.handle(r, "/accessories/table", "accessories_table", g.handleTable)
	g.handle(r, "/health", "health", g.handleHealth)
	g.handle(r, "/status", "status", g.handleStatus)
	if g.registry != nil {
		r.Handle("/metrics", g.registry.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	})
	return r
}

func (g *Gateway) handle(r *mux.Router, path, route string, fn http.HandlerFunc) {
	methods := []string{http.MethodGet, http.MethodHead}
	if g.cfg.EnableCORS {
		methods = append(methods, http.MethodOptions)
	}
	r.Handle(path, g.instrument(route, fn)).Methods(methods...)
}

// Start binds the listener and serves in the background. A bind failure is
// fatal.
func (g *Gateway) Start(ctx context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Start", "check running state")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Gateway", "Start", "context already cancelled")
	}

	addr := net.JoinHostPort(g.cfg.Host, strconv.Itoa(g.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Start", "listen on "+addr)
	}

	g.listener = ln
	g.server = &http.Server{
		Handler:           g.Router(),
		ReadHeaderTimeout: g.cfg.ReadTimeout,
		ReadTimeout:       g.cfg.ReadTimeout,
		WriteTimeout:      g.cfg.WriteTimeout,
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			g.logger.Error("Inspection server failed", "error", err)
		}
	}()

	g.logger.Info("Inspection server listening",
		"accessories", "http://"+ln.Addr().String()+"/accessories",
		"table", "http://"+ln.Addr().String()+"/accessories/table")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Stop shuts the listener down.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := g.server.Shutdown(ctx)
	g.wg.Wait()
	g.server = nil
	g.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "shutdown http server")
	}
	return nil
}
