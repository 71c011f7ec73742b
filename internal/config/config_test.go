package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenPathEmpty(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ".sitspots", cfg.DataDir)
	assert.Equal(t, "file://"+filepath.Join(".sitspots", "queue.json"), cfg.QueueDSN)
	assert.Equal(t, "file://"+filepath.Join(".sitspots", "payloads"), cfg.PayloadDSN)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
dataDir: /var/lib/sitspots
queueDsn: postgres://localhost/outbox
gateway:
  baseUrl: https://api.sitspots.example
  token: secret
  probeUrl: wss://api.sitspots.example/ws
  probeInterval: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/sitspots", cfg.DataDir)
	assert.Equal(t, "postgres://localhost/outbox", cfg.QueueDSN)
	// Unset payload DSN is derived from the data dir.
	assert.Equal(t, "file://"+filepath.Join("/var/lib/sitspots", "payloads"), cfg.PayloadDSN)
	assert.Equal(t, "https://api.sitspots.example", cfg.Gateway.BaseURL)
	assert.Equal(t, "wss://api.sitspots.example/ws", cfg.Gateway.ProbeURL)
	assert.Equal(t, 30*time.Second, cfg.Gateway.ProbeIntervalDuration())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: [unterminated"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestWithDataDirRederivesFileDSNs(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	moved := cfg.WithDataDir("/tmp/outbox")
	assert.Equal(t, "/tmp/outbox", moved.DataDir)
	assert.Equal(t, "file://"+filepath.Join("/tmp/outbox", "queue.json"), moved.QueueDSN)
	assert.Equal(t, "file://"+filepath.Join("/tmp/outbox", "payloads"), moved.PayloadDSN)

	// Explicit non-file DSNs are left alone.
	cfg.QueueDSN = "postgres://localhost/outbox"
	kept := cfg.WithDataDir("/tmp/outbox")
	assert.Equal(t, "postgres://localhost/outbox", kept.QueueDSN)

	// A blank override changes nothing.
	same := cfg.WithDataDir("  ")
	assert.Equal(t, cfg, same)
}

func TestProbeIntervalDurationFallback(t *testing.T) {
	assert.Equal(t, time.Duration(0), Gateway{}.ProbeIntervalDuration())
	assert.Equal(t, time.Duration(0), Gateway{ProbeInterval: "nonsense"}.ProbeIntervalDuration())
	assert.Equal(t, time.Duration(0), Gateway{ProbeInterval: "-5s"}.ProbeIntervalDuration())
	assert.Equal(t, 2*time.Minute, Gateway{ProbeInterval: "2m"}.ProbeIntervalDuration())
}
