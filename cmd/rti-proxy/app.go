package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/auth"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/bridge"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/config"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/discovery"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
	gatewayhttp "github.com/Aaron-Gardien/homebridge-rti-proxy/gateway/http"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/health"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/input/hublink"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/natsclient"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/output/websocket"
)

const healthReportInterval = 15 * time.Second

// app owns every long-lived component of the proxy.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	store      *accessory.Store
	bridge     *bridge.Bridge
	link       *hublink.Link
	server     *websocket.Server
	gateway    *gatewayhttp.Gateway
	nats       *natsclient.Client
	advertiser *discovery.Advertiser
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}

	authenticator, err := auth.New(auth.Credentials{
		Host:     cfg.Hub.Host,
		Port:     cfg.Hub.Port,
		Username: cfg.Hub.Username,
		Password: cfg.Hub.Password,
		OTP:      cfg.Hub.OTP,
	},
		auth.WithRefreshMargin(cfg.Hub.TokenRefreshMargin),
		auth.WithLogger(logger),
		auth.WithMetrics(a.registry),
	)
	if err != nil {
		return nil, errors.Wrap(err, "app", "newApp", "create authenticator")
	}

	a.store, err = accessory.NewStore(accessory.Config{
		FullLoadThreshold: cfg.State.FullLoadThreshold,
	}, a.registry, logger)
	if err != nil {
		return nil, errors.Wrap(err, "app", "newApp", "create accessory store")
	}

	// A nil *Mirror must not reach the bridge as a non-nil interface.
	var mirror bridge.Mirror
	if cfg.NATS.Enabled() {
		a.nats, err = natsclient.NewClient(cfg.NATS.URL,
			natsclient.WithName(cfg.NATS.Name),
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(a.registry),
			natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
			natsclient.WithToken(cfg.NATS.Token),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
			natsclient.WithRetryOnFailedConnect(true),
		)
		if err != nil {
			return nil, errors.Wrap(err, "app", "newApp", "create NATS client")
		}
		mirror = natsclient.NewMirror(a.nats, cfg.NATS.SubjectPrefix, a.registry, logger)
	}

	a.bridge, err = bridge.New(bridge.Config{
		CommandTimeout: cfg.Commands.Timeout,
		QueueSize:      cfg.Commands.QueueSize,
	}, a.store, mirror, a.registry, logger)
	if err != nil {
		return nil, errors.Wrap(err, "app", "newApp", "create bridge")
	}

	a.link, err = hublink.New(hublink.Config{
		Host:                cfg.Hub.Host,
		Port:                cfg.Hub.Port,
		HandshakeTimeout:    cfg.Link.HandshakeTimeout,
		WriteTimeout:        cfg.Link.WriteTimeout,
		ReconnectDelay:      cfg.Link.ReconnectDelay,
		ReconnectNowDelay:   cfg.Link.ReconnectNowDelay,
		HealthInterval:      cfg.Link.HealthInterval,
		SilenceTimeout:      cfg.Link.SilenceTimeout,
		InitialRequestDelay: cfg.Link.InitialRequestDelay,
		PollInterval:        cfg.Link.PollInterval,
	}, authenticator, a.bridge, a.registry, logger)
	if err != nil {
		return nil, errors.Wrap(err, "app", "newApp", "create hub link")
	}

	a.server, err = websocket.New(websocket.Config{
		Host:          cfg.Proxy.Host,
		Port:          cfg.Proxy.Port,
		Path:          cfg.Proxy.Path,
		SendQueueSize: cfg.Proxy.SendQueueSize,
		WriteTimeout:  cfg.Proxy.WriteTimeout,
		PingInterval:  cfg.Proxy.PingInterval,
		ReadLimit:     cfg.Proxy.ReadLimit,
		RateLimit:     cfg.Proxy.RateLimit,
		RateBurst:     cfg.Proxy.RateBurst,
	}, a.bridge, a.registry, logger)
	if err != nil {
		return nil, errors.Wrap(err, "app", "newApp", "create downstream server")
	}

	if cfg.Inspect.Enabled {
		gwCfg := gatewayhttp.DefaultConfig()
		gwCfg.Enabled = true
		gwCfg.Host = cfg.Inspect.Host
		gwCfg.Port = cfg.Inspect.Port
		gwCfg.EnableCORS = cfg.Inspect.EnableCORS
		gwCfg.CORSOrigins = cfg.Inspect.CORSOrigins

		a.gateway, err = gatewayhttp.NewGateway(gwCfg, a.store, a.monitor, a.registry, logger)
		if err != nil {
			return nil, errors.Wrap(err, "app", "newApp", "create inspection gateway")
		}
		a.gateway.RegisterStatus("link", func() any { return a.link.Status() })
		a.gateway.RegisterStatus("bridge", func() any { return a.bridge.Status() })
		a.gateway.RegisterStatus("clients", func() any { return a.server.Infos() })
		if a.nats != nil {
			a.gateway.RegisterStatus("nats", func() any { return a.nats.GetStatus() })
		}
	}

	a.advertiser = discovery.NewAdvertiser(discovery.Config{
		Enabled:   cfg.Discovery.Enabled,
		Instance:  cfg.Discovery.Instance,
		Interface: cfg.Discovery.Interface,
	}, cfg.Proxy.Port, cfg.Proxy.Path, Version, logger)

	a.registerProbes()
	return a, nil
}

func (a *app) registerProbes() {
	a.monitor.Register("hub-link", a.link.Health)
	a.monitor.Register("bridge", a.bridge.Health)
	a.monitor.Register("downstream", func() health.Status {
		n := a.server.Count()
		if n == 0 {
			return health.NewHealthy("downstream", "listening, no clients")
		}
		return health.NewHealthy("downstream", pluralClients(n))
	})
	if a.nats != nil {
		a.monitor.Register("nats", func() health.Status {
			if a.nats.IsHealthy() {
				return health.NewHealthy("nats", "mirror connected")
			}
			// The mirror is optional; losing it never fails the proxy.
			return health.NewDegraded("nats", "mirror "+a.nats.Status().String())
		})
	}
}

// run starts every component and blocks until ctx is cancelled or a
// component fails, then shuts down in reverse order.
func (a *app) run(ctx context.Context, shutdownTimeout time.Duration) error {
	core := a.registry.CoreMetrics()
	core.RecordServiceStatus(appName, metric.StatusStarting)

	if err := a.server.Start(ctx); err != nil {
		core.RecordServiceStatus(appName, metric.StatusFailed)
		return err
	}
	a.logger.Info("Downstream server listening",
		"port", a.cfg.Proxy.Port, "path", a.cfg.Proxy.Path)

	if a.gateway != nil {
		if err := a.gateway.Start(ctx); err != nil {
			_ = a.server.Stop(shutdownTimeout)
			core.RecordServiceStatus(appName, metric.StatusFailed)
			return err
		}
		a.logger.Info("Inspection gateway listening", "addr", a.gateway.Addr().String())
	}

	if a.nats != nil {
		if err := a.nats.Connect(ctx); err != nil {
			a.logger.Warn("NATS mirror unavailable", "error", err)
		}
	}

	if err := a.advertiser.Start(); err != nil {
		a.logger.Warn("Service advertisement failed", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.bridge.Run(gctx, a.link)
	})

	if err := a.link.Start(gctx); err != nil {
		a.logger.Error("Failed to start hub link", "error", err)
		core.RecordServiceStatus(appName, metric.StatusFailed)
		cancel()
		_ = g.Wait()
		a.shutdown(shutdownTimeout)
		return err
	}

	core.RecordServiceStatus(appName, metric.StatusRunning)
	a.logger.Info("Proxy running", "hub", a.link.Status().Endpoint)

	g.Go(func() error {
		a.reportHealth(gctx, core)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		core.RecordServiceStatus(appName, metric.StatusStopping)
		a.shutdown(shutdownTimeout)
		return nil
	})

	err := g.Wait()
	if err != nil {
		core.RecordServiceStatus(appName, metric.StatusFailed)
		return err
	}
	core.RecordServiceStatus(appName, metric.StatusStopped)
	return nil
}

func (a *app) shutdown(timeout time.Duration) {
	a.logger.Info("Shutting down", "timeout", timeout)

	a.advertiser.Stop()

	if err := a.link.Stop(timeout); err != nil {
		a.logger.Warn("Hub link stop failed", "error", err)
	}
	if err := a.server.Stop(timeout); err != nil {
		a.logger.Warn("Downstream server stop failed", "error", err)
	}
	if a.gateway != nil {
		if err := a.gateway.Stop(timeout); err != nil {
			a.logger.Warn("Inspection gateway stop failed", "error", err)
		}
	}
	if a.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("NATS close failed", "error", err)
		}
	}
}

func (a *app) reportHealth(ctx context.Context, core *metric.Metrics) {
	ticker := time.NewTicker(healthReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			overall := a.monitor.AggregateHealth(appName)
			core.RecordHealthStatus(appName, overall.Healthy)
			for _, sub := range overall.SubStatuses {
				core.RecordHealthStatus(sub.Component, sub.Healthy)
			}
		}
	}
}

func pluralClients(n int) string {
	if n == 1 {
		return "1 client connected"
	}
	return strconv.Itoa(n) + " clients connected"
}
