package http

import (
	"fmt"
	"time"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

// Config holds the inspection listener settings.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`

	EnableCORS  bool     `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultConfig returns the defaults: all interfaces, port 9100.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Port:         9100,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("port %d out of range", c.Port), "Config", "Validate", "check port")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative timeout"), "Config", "Validate", "check timeouts")
	}
	return nil
}
