package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	require.Equal(t, 10*time.Second, cfg.Engine.ConnectTimeout)
	require.Equal(t, 5*time.Second, cfg.Engine.DrainTimeout)
	require.Equal(t, 5, cfg.Protocol.MaxViolations)
	require.Equal(t, time.Minute, cfg.Protocol.ViolationWindow)
}

func TestLoadFileYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9000
engine:
  url: wss://stt.example.com/stream
  drain_timeout: 2s
heartbeat:
  interval: 15s
`), 0o644))
	t.Setenv("RELAY_PORT", "9100")
	t.Setenv("RELAY_ENGINE_CONNECT_TIMEOUT", "3s")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Mode)
	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, "wss://stt.example.com/stream", cfg.Engine.URL)
	require.Equal(t, 2*time.Second, cfg.Engine.DrainTimeout)
	require.Equal(t, 3*time.Second, cfg.Engine.ConnectTimeout)
	require.Equal(t, 15*time.Second, cfg.Heartbeat.Interval)
}

func TestValidateRejectsBadEngineURL(t *testing.T) {
	t.Setenv("RELAY_ENGINE_URL", "http://stt.example.com")
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "engine.url")
}
