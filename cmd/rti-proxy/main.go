// Package main is the rti-proxy entry point: it bridges a Homebridge hub to
// RTI controller clients over WebSocket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/config"
)

// Build information, overridden with -ldflags at release time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "rti-proxy"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC: %v\n%s\n", r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return err
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		cliCfg.usage()
		return nil
	}

	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cliCfg.ConfigPath)
		fmt.Println(cfg.String())
		return nil
	}

	logger.Info("Starting rti-proxy",
		"version", Version,
		"build_time", BuildTime,
		"hub", fmt.Sprintf("%s:%d", cfg.Hub.Host, cfg.Hub.Port),
		"nats_mirror", cfg.NATS.Enabled(),
		"inspect", cfg.Inspect.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	if err := a.run(ctx, cliCfg.ShutdownTimeout); err != nil {
		return err
	}

	logger.Info("rti-proxy shutdown complete")
	return nil
}

// loadConfig layers defaults, the optional file, environment, then flags,
// and validates the result.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cliCfg.applyTo(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
