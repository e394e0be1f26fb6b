package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool

	HubHost     string
	HubPort     int
	Port        int
	InspectPort int
	NATSURL     string

	// set records which flags appeared on the command line.
	set   map[string]bool
	usage func()
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("RTI_PROXY_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: RTI_PROXY_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("RTI_PROXY_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: RTI_PROXY_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "json",
		"Log format: json, text")
	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("RTI_PROXY_DEBUG", false),
		"Enable debug logging (env: RTI_PROXY_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("RTI_PROXY_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: RTI_PROXY_SHUTDOWN_TIMEOUT)")

	fs.StringVar(&cfg.HubHost, "hub-host", "", "Homebridge host")
	fs.IntVar(&cfg.HubPort, "hub-port", 0, "Homebridge UI port")
	fs.IntVar(&cfg.Port, "port", 0, "Downstream WebSocket port")
	fs.IntVar(&cfg.InspectPort, "inspect-port", 0, "Inspection HTTP port")
	fs.StringVar(&cfg.NATSURL, "nats-url", "", "NATS server URL; enables the event mirror")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.usage = fs.Usage
	cfg.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		cfg.set[f.Name] = true
	})

	if cfg.Debug {
		cfg.LogLevel = "debug"
		cfg.set["log-level"] = true
	}

	return cfg, nil
}

// applyTo overrides cfg with every flag given on the command line. Flags
// win over both the file and the environment.
func (c *CLIConfig) applyTo(cfg *config.Config) {
	if c.set["hub-host"] {
		cfg.Hub.Host = c.HubHost
	}
	if c.set["hub-port"] {
		cfg.Hub.Port = c.HubPort
	}
	if c.set["port"] {
		cfg.Proxy.Port = c.Port
	}
	if c.set["inspect-port"] {
		cfg.Inspect.Port = c.InspectPort
	}
	if c.set["nats-url"] {
		cfg.NATS.URL = c.NATSURL
	}
	if c.set["log-level"] {
		cfg.Log.Level = c.LogLevel
	}
	if c.set["log-format"] {
		cfg.Log.Format = c.LogFormat
	}
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Homebridge to RTI controller bridge

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run against a local Homebridge with default credentials
  %s

  # Run with a config file and text logs
  %s --config=/etc/rti-proxy/config.yaml --log-format=text

  # Credentials from the environment
  export RTI_PROXY_USERNAME=admin
  export RTI_PROXY_PASSWORD=secret
  %s --hub-host=homebridge.local

  # Validate configuration only
  %s --config=config.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
