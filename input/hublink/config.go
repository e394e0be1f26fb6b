package hublink

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

// Config holds the hub address and the link's timing.
type Config struct {
	Host string
	Port int

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// ReconnectDelay is the fixed wait after a close or failed attempt.
	ReconnectDelay time.Duration
	// ReconnectNowDelay is the shorter wait used by ReconnectNow.
	ReconnectNowDelay time.Duration

	HealthInterval time.Duration
	// SilenceTimeout is how long the link may go without any inbound frame
	// before the health monitor treats it as dead.
	SilenceTimeout time.Duration

	// InitialRequestDelay separates the namespace join from the first
	// get-accessories request.
	InitialRequestDelay time.Duration
	// PollInterval re-requests full state while open. Zero disables polling.
	PollInterval time.Duration
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		Host:                "127.0.0.1",
		Port:                8581,
		HandshakeTimeout:    10 * time.Second,
		WriteTimeout:        10 * time.Second,
		ReconnectDelay:      10 * time.Second,
		ReconnectNowDelay:   time.Second,
		HealthInterval:      15 * time.Second,
		SilenceTimeout:      60 * time.Second,
		InitialRequestDelay: 250 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "hublink", "Validate", "hub host required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: port %d out of range", errors.ErrInvalidConfig, c.Port),
			"hublink", "Validate", "check hub port")
	}
	for name, d := range map[string]time.Duration{
		"handshake_timeout":   c.HandshakeTimeout,
		"write_timeout":       c.WriteTimeout,
		"reconnect_delay":     c.ReconnectDelay,
		"reconnect_now_delay": c.ReconnectNowDelay,
		"health_interval":     c.HealthInterval,
		"silence_timeout":     c.SilenceTimeout,
	} {
		if d <= 0 {
			return errors.WrapInvalid(fmt.Errorf("%w: %s must be positive", errors.ErrInvalidConfig, name),
				"hublink", "Validate", "check timing")
		}
	}
	if c.InitialRequestDelay < 0 || c.PollInterval < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative request timing", errors.ErrInvalidConfig),
			"hublink", "Validate", "check timing")
	}
	return nil
}

// Endpoint returns the upgrade URL without credentials, for logging.
func (c Config) Endpoint() string {
	return "ws://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/socket.io/"
}

// URL returns the upgrade URL carrying token.
func (c Config) URL(token string) string {
	return c.Endpoint() + "?token=" + url.QueryEscape(token) + "&EIO=4&transport=websocket"
}
