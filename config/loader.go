package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RTI_PROXY"

const (
	maxConfigSize = 1 << 20
	maxEnvVarLen  = 10000
)

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load starts from Default, decodes each layer on top, then applies the
// environment. Keys a layer omits keep their earlier value.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "read "+path)
		}
		if err := decodeInto(cfg, data); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "parse "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// decodeInto decodes YAML or JSON onto cfg, rejecting unknown keys.
func decodeInto(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"HUB_HOST", &cfg.Hub.Host},
		{"USERNAME", &cfg.Hub.Username},
		{"PASSWORD", &cfg.Hub.Password},
		{"OTP", &cfg.Hub.OTP},
		{"NATS_URL", &cfg.NATS.URL},
		{"LOG_LEVEL", &cfg.Log.Level},
	}
	for _, s := range strs {
		val, ok, err := l.env(s.key)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"HUB_PORT", &cfg.Hub.Port},
		{"PORT", &cfg.Proxy.Port},
		{"INSPECT_PORT", &cfg.Inspect.Port},
	}
	for _, i := range ints {
		val, ok, err := l.env(i.key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%s_%s: %w", l.envPrefix, i.key, err),
				"Loader", "applyEnvOverrides", "parse port")
		}
		*i.dst = n
	}

	return nil
}

func (l *Loader) env(key string) (string, bool, error) {
	name := l.envPrefix + "_" + key
	val, ok := l.lookupEnv(name)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(name, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "validate "+name)
	}
	return val, true, nil
}

// safeReadFile reads a config file with basic validation
func safeReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, stderrors.New("empty config path")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("unsupported config file type: %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	return os.ReadFile(path)
}

// validateEnvVar does basic environment variable validation
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}
