// Package config loads outboxctl's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir    string  `yaml:"dataDir"`
	QueueDSN   string  `yaml:"queueDsn"`
	PayloadDSN string  `yaml:"payloadDsn"`
	Gateway    Gateway `yaml:"gateway"`
}

type Gateway struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token"`
	// ProbeURL is the websocket endpoint the connectivity monitor holds
	// open; empty disables the probe.
	ProbeURL      string `yaml:"probeUrl"`
	ProbeInterval string `yaml:"probeInterval"`
}

func Default() Config {
	return Config{DataDir: ".sitspots"}
}

// Load reads the config at path, or returns defaults when path is empty.
// Unset storage DSNs are derived from the data directory.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = ".sitspots"
	}
	if strings.TrimSpace(c.QueueDSN) == "" {
		c.QueueDSN = "file://" + filepath.Join(c.DataDir, "queue.json")
	}
	if strings.TrimSpace(c.PayloadDSN) == "" {
		c.PayloadDSN = "file://" + filepath.Join(c.DataDir, "payloads")
	}
}

// WithDataDir rebuilds the derived storage DSNs under dir. Explicitly
// configured non-file DSNs are kept as-is.
func (c Config) WithDataDir(dir string) Config {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return c
	}
	out := c
	out.DataDir = dir
	if c.QueueDSN == "" || strings.HasPrefix(c.QueueDSN, "file://") {
		out.QueueDSN = "file://" + filepath.Join(dir, "queue.json")
	}
	if c.PayloadDSN == "" || strings.HasPrefix(c.PayloadDSN, "file://") {
		out.PayloadDSN = "file://" + filepath.Join(dir, "payloads")
	}
	return out
}

// ProbeIntervalDuration parses the configured probe interval, falling back
// to zero (the monitor's own default) on empty or invalid input.
func (g Gateway) ProbeIntervalDuration() time.Duration {
	raw := strings.TrimSpace(g.ProbeInterval)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
