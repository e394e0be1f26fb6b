package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

// Config is the complete proxy configuration.
type Config struct {
	Hub       HubConfig       `yaml:"hub" json:"hub"`
	Proxy     ProxyConfig     `yaml:"proxy" json:"proxy"`
	Inspect   InspectConfig   `yaml:"inspect" json:"inspect"`
	Link      LinkConfig      `yaml:"link" json:"link"`
	State     StateConfig     `yaml:"state" json:"state"`
	Commands  CommandsConfig  `yaml:"commands" json:"commands"`
	NATS      NATSConfig      `yaml:"nats" json:"nats"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// HubConfig locates the hub and holds its login credentials.
type HubConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	OTP      string `yaml:"otp" json:"otp"`

	// TokenRefreshMargin renews the bearer token this long before it expires.
	TokenRefreshMargin time.Duration `yaml:"token_refresh_margin" json:"token_refresh_margin"`
}

// ProxyConfig is the downstream controller listener.
type ProxyConfig struct {
	Host          string        `yaml:"host" json:"host"`
	Port          int           `yaml:"port" json:"port"`
	Path          string        `yaml:"path" json:"path"`
	SendQueueSize int           `yaml:"send_queue_size" json:"send_queue_size"`
	WriteTimeout  time.Duration `yaml:"write_timeout" json:"write_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval" json:"ping_interval"`
	ReadLimit     int64         `yaml:"read_limit" json:"read_limit"`
	RateLimit     float64       `yaml:"rate_limit" json:"rate_limit"`
	RateBurst     int           `yaml:"rate_burst" json:"rate_burst"`
}

// InspectConfig is the read-only HTTP listener.
type InspectConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Host        string   `yaml:"host" json:"host"`
	Port        int      `yaml:"port" json:"port"`
	EnableCORS  bool     `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// LinkConfig holds the upstream link timing.
type LinkConfig struct {
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReconnectDelay      time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	ReconnectNowDelay   time.Duration `yaml:"reconnect_now_delay" json:"reconnect_now_delay"`
	HealthInterval      time.Duration `yaml:"health_interval" json:"health_interval"`
	SilenceTimeout      time.Duration `yaml:"silence_timeout" json:"silence_timeout"`
	InitialRequestDelay time.Duration `yaml:"initial_request_delay" json:"initial_request_delay"`
	PollInterval        time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// StateConfig tunes the accessory store.
type StateConfig struct {
	// FullLoadThreshold is the accessory count above which a payload
	// replaces the snapshot instead of merging into it.
	FullLoadThreshold int `yaml:"full_load_threshold" json:"full_load_threshold"`
}

// CommandsConfig tunes command handling.
type CommandsConfig struct {
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	QueueSize int           `yaml:"queue_size" json:"queue_size"`
}

// NATSConfig enables the event mirror when URL is set.
type NATSConfig struct {
	URL           string        `yaml:"url" json:"url"`
	SubjectPrefix string        `yaml:"subject_prefix" json:"subject_prefix"`
	Name          string        `yaml:"name" json:"name"`
	Username      string        `yaml:"username" json:"username"`
	Password      string        `yaml:"password" json:"password"`
	Token         string        `yaml:"token" json:"token"`
	MaxReconnects int           `yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" json:"reconnect_wait"`
}

// Enabled reports whether the mirror should run.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// DiscoveryConfig controls mDNS advertisement.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Instance  string `yaml:"instance" json:"instance"`
	Interface string `yaml:"interface" json:"interface"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			Host:               "127.0.0.1",
			Port:               8581,
			Username:           "admin",
			Password:           "admin",
			TokenRefreshMargin: 60 * time.Second,
		},
		Proxy: ProxyConfig{
			Port:          9001,
			Path:          "/",
			SendQueueSize: 256,
			WriteTimeout:  5 * time.Second,
			PingInterval:  30 * time.Second,
			ReadLimit:     1 << 20,
			RateLimit:     20,
			RateBurst:     40,
		},
		Inspect: InspectConfig{
			Enabled: true,
			Port:    9100,
		},
		Link: LinkConfig{
			HandshakeTimeout:    10 * time.Second,
			WriteTimeout:        10 * time.Second,
			ReconnectDelay:      10 * time.Second,
			ReconnectNowDelay:   time.Second,
			HealthInterval:      15 * time.Second,
			SilenceTimeout:      60 * time.Second,
			InitialRequestDelay: 250 * time.Millisecond,
		},
		State: StateConfig{
			FullLoadThreshold: 3,
		},
		Commands: CommandsConfig{
			Timeout:   10 * time.Second,
			QueueSize: 1024,
		},
		NATS: NATSConfig{
			SubjectPrefix: "rtiproxy",
			Name:          "rti-proxy",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the proxy cannot run with.
func (c *Config) Validate() error {
	if c.Hub.Host == "" {
		return invalid("hub.host must not be empty")
	}
	if err := checkPort("hub.port", c.Hub.Port, false); err != nil {
		return err
	}
	if err := checkPort("proxy.port", c.Proxy.Port, true); err != nil {
		return err
	}
	if c.Inspect.Enabled {
		if err := checkPort("inspect.port", c.Inspect.Port, true); err != nil {
			return err
		}
		if c.Inspect.Port != 0 && c.Inspect.Port == c.Proxy.Port {
			return invalid(fmt.Sprintf("inspect.port and proxy.port must differ (both %d)", c.Proxy.Port))
		}
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"link.handshake_timeout", c.Link.HandshakeTimeout},
		{"link.write_timeout", c.Link.WriteTimeout},
		{"link.reconnect_delay", c.Link.ReconnectDelay},
		{"link.reconnect_now_delay", c.Link.ReconnectNowDelay},
		{"link.health_interval", c.Link.HealthInterval},
		{"link.silence_timeout", c.Link.SilenceTimeout},
		{"commands.timeout", c.Commands.Timeout},
		{"proxy.write_timeout", c.Proxy.WriteTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return invalid(p.name + " must be positive")
		}
	}
	if c.Link.InitialRequestDelay < 0 || c.Link.PollInterval < 0 || c.Proxy.PingInterval < 0 {
		return invalid("link and proxy intervals must not be negative")
	}
	if c.Hub.TokenRefreshMargin < 0 {
		return invalid("hub.token_refresh_margin must not be negative")
	}

	if c.State.FullLoadThreshold < 1 {
		return invalid("state.full_load_threshold must be at least 1")
	}
	if c.Commands.QueueSize < 1 || c.Proxy.SendQueueSize < 1 {
		return invalid("queue sizes must be at least 1")
	}
	if c.Proxy.RateLimit < 0 || c.Proxy.RateBurst < 0 {
		return invalid("proxy rate limits must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format %q is not one of json, text", c.Log.Format))
	}

	return nil
}

func checkPort(name string, port int, zeroOK bool) error {
	if port == 0 && zeroOK {
		return nil
	}
	if port <= 0 || port > 65535 {
		return invalid(fmt.Sprintf("%s %d out of range", name, port))
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "check configuration")
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	out := *c
	out.Inspect.CORSOrigins = append([]string(nil), c.Inspect.CORSOrigins...)
	return &out
}

// Redacted returns a copy with secrets masked, safe to log.
func (c *Config) Redacted() *Config {
	out := c.Clone()
	out.Hub.Password = mask(out.Hub.Password)
	out.Hub.OTP = mask(out.Hub.OTP)
	out.NATS.Password = mask(out.NATS.Password)
	out.NATS.Token = mask(out.NATS.Token)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// String renders the redacted configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
