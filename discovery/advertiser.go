// Package discovery advertises the downstream WebSocket port over mDNS so
// controllers on the LAN can find the proxy without a configured address.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

// Service registration constants.
const (
	ServiceType = "_rti-proxy._tcp"
	Domain      = "local."

	// MaxInstanceNameLen is the DNS-SD limit for an instance label.
	MaxInstanceNameLen = 63
)

// Config describes what gets advertised.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Instance defaults to "rti-proxy-<hostname>".
	Instance string `yaml:"instance" json:"instance"`

	// Interface restricts advertisement to one network interface.
	Interface string `yaml:"interface" json:"interface"`
}

type server interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (server, error)

func zeroconfRegister(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertiser owns one mDNS registration.
type Advertiser struct {
	cfg      Config
	port     int
	path     string
	version  string
	logger   *slog.Logger
	register registerFunc

	mu     sync.Mutex
	server server
}

// NewAdvertiser creates an advertiser for the downstream listener on port
// serving WebSocket upgrades at path.
func NewAdvertiser(cfg Config, port int, path, version string, logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{
		cfg:      cfg,
		port:     port,
		path:     path,
		version:  version,
		logger:   logger.With("component", "discovery"),
		register: zeroconfRegister,
	}
}

// InstanceName returns the advertised instance label.
func (a *Advertiser) InstanceName() string {
	name := a.cfg.Instance
	if name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "local"
		}
		name = "rti-proxy-" + host
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// TXT returns the advertised TXT records.
func (a *Advertiser) TXT() []string {
	path := a.path
	if path == "" {
		path = "/"
	}
	return []string{
		"path=" + path,
		"version=" + a.version,
	}
}

func (a *Advertiser) interfaces() ([]net.Interface, error) {
	if a.cfg.Interface == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(a.cfg.Interface)
	if err != nil {
		return nil, err
	}
	return []net.Interface{*iface}, nil
}

// Start registers the service, replacing any earlier registration. It is a
// no-op when advertisement is disabled.
func (a *Advertiser) Start() error {
	if !a.cfg.Enabled {
		return nil
	}
	if a.port <= 0 || a.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("port %d out of range", a.port), "Advertiser", "Start", "validate port")
	}

	ifaces, err := a.interfaces()
	if err != nil {
		return errors.WrapInvalid(err, "Advertiser", "Start", "resolve interface")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	instance := a.InstanceName()
	srv, err := a.register(instance, ServiceType, Domain, a.port, a.TXT(), ifaces)
	if err != nil {
		return errors.WrapTransient(err, "Advertiser", "Start", "register mdns service")
	}
	a.server = srv

	a.logger.Info("Advertising proxy over mDNS",
		"instance", instance,
		"service", ServiceType,
		"port", a.port)
	return nil
}

// Running reports whether a registration is active.
func (a *Advertiser) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Stop withdraws the registration.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.Info("Stopped mDNS advertisement")
	}
}
