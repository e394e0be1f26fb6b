package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/config"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("RTI_PROXY_CONFIG", "")
	t.Setenv("RTI_PROXY_DEBUG", "")
	t.Setenv("RTI_PROXY_SHUTDOWN_TIMEOUT", "")

	cfg, err := parseFlags(nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.ConfigPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.set)
	assert.NoError(t, validateFlags(cfg))
}

func TestParseFlags_Overrides(t *testing.T) {
	cfg, err := parseFlags([]string{
		"--hub-host=homebridge.local",
		"--hub-port=8080",
		"--port=9002",
		"--inspect-port=9200",
		"--nats-url=nats://broker:4222",
		"--debug",
	})
	require.NoError(t, err)

	base := config.Default()
	cfg.applyTo(base)

	assert.Equal(t, "homebridge.local", base.Hub.Host)
	assert.Equal(t, 8080, base.Hub.Port)
	assert.Equal(t, 9002, base.Proxy.Port)
	assert.Equal(t, 9200, base.Inspect.Port)
	assert.Equal(t, "nats://broker:4222", base.NATS.URL)
	assert.Equal(t, "debug", base.Log.Level)
	// untouched flags keep the loaded value
	assert.Equal(t, config.Default().Log.Format, base.Log.Format)
}

func TestParseFlags_EnvDefaults(t *testing.T) {
	t.Setenv("RTI_PROXY_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("RTI_PROXY_DEBUG", "true")

	cfg, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateFlags(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		err := validateFlags(&CLIConfig{ConfigPath: "/does/not/exist.yaml", ShutdownTimeout: time.Second})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config file not found")
	})

	t.Run("non-positive shutdown timeout", func(t *testing.T) {
		err := validateFlags(&CLIConfig{})
		assert.Error(t, err)
	})

	t.Run("version skips checks", func(t *testing.T) {
		assert.NoError(t, validateFlags(&CLIConfig{ShowVersion: true}))
	})
}

func TestLoadConfig_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hub:\n  host: file-host\n  port: 8000\n"), 0o600))

	cliCfg, err := parseFlags([]string{"--config", path, "--hub-port=8123"})
	require.NoError(t, err)

	cfg, err := loadConfig(cliCfg)
	require.NoError(t, err)
	assert.Equal(t, "file-host", cfg.Hub.Host)
	assert.Equal(t, 8123, cfg.Hub.Port)
}

func TestLoadConfig_InvalidFlag(t *testing.T) {
	cliCfg, err := parseFlags([]string{"--port=70000"})
	require.NoError(t, err)

	_, err = loadConfig(cliCfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, Version, entry["version"])
	assert.Equal(t, "value", entry["key"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "text").Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "service="+appName)
}
