package websocket

import (
	"fmt"
	"time"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

// Config holds configuration for the downstream server
type Config struct {
	// Host to bind; empty binds all interfaces.
	Host string
	Port int
	// Path the upgrade is served on. "/" accepts any path.
	Path string

	// SendQueueSize bounds each client's outbound queue.
	SendQueueSize int
	WriteTimeout  time.Duration
	// PingInterval is how often idle clients are pinged. Zero disables pings.
	PingInterval time.Duration
	// ReadLimit caps a single inbound message in bytes.
	ReadLimit int64

	// RateLimit is the sustained inbound messages per second per client;
	// zero disables limiting.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns the defaults for the downstream server
func DefaultConfig() Config {
	return Config{
		Port:          9001,
		Path:          "/",
		SendQueueSize: 256,
		WriteTimeout:  5 * time.Second,
		PingInterval:  30 * time.Second,
		ReadLimit:     1 << 20,
		RateLimit:     20,
		RateBurst:     40,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: port %d out of range", errors.ErrInvalidConfig, c.Port),
			"websocket", "Validate", "check listen port")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return errors.WrapInvalid(fmt.Errorf("%w: path %q must start with /", errors.ErrInvalidConfig, c.Path),
			"websocket", "Validate", "check path")
	}
	if c.SendQueueSize < 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: send queue size must be positive", errors.ErrInvalidConfig),
			"websocket", "Validate", "check send queue")
	}
	if c.WriteTimeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: write timeout must be positive", errors.ErrInvalidConfig),
			"websocket", "Validate", "check write timeout")
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst < 1) {
		return errors.WrapInvalid(fmt.Errorf("%w: rate limit needs a positive burst", errors.ErrInvalidConfig),
			"websocket", "Validate", "check rate limit")
	}
	return nil
}
