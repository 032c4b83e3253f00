package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(content), 0600))
	return fn
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{})
	require.Error(t, err, "an explicit path must exist")

	cfg = Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ws://localhost:8080", cfg.RealtimeBase)
	assert.Equal(t, 10*time.Second, cfg.Timeout.Std())
	assert.Equal(t, "/auth/refresh", cfg.RefreshPath)
	assert.True(t, cfg.Telemetry.Disabled)
}

func TestFileThenEnvironment(t *testing.T) {
	fn := writeFile(t, `
api_base: https://rooms.example.com/api
timeout: 30s
session:
  path: ${DATA_DIR}/session.db
  ttl: 7d
log:
  level: debug
telemetry:
  otlp_url: ${OTLP:-http://localhost:4318}
`)
	cfg, err := LoadWithEnv(fn, map[string]string{
		"DATA_DIR":           "/var/lib/roommate",
		"ROOMMATE_LOG_LEVEL": "warn",
		"ROOMMATE_TIMEOUT":   "1m",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://rooms.example.com/api", cfg.APIBase)
	assert.Equal(t, "wss://rooms.example.com", cfg.RealtimeBase)
	assert.Equal(t, "/var/lib/roommate/session.db", cfg.Session.Path)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL.Std())
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, time.Minute, cfg.Timeout.Std())
	assert.Equal(t, "http://localhost:4318", cfg.Telemetry.URL)
}

func TestEnvironmentOnly(t *testing.T) {
	cfg, err := LoadWithEnv(writeFile(t, ""), map[string]string{
		"ROOMMATE_API_BASE":     "http://api.local:9000",
		"ROOMMATE_WS_BASE":      "wss://rt.local",
		"ROOMMATE_REDIS_URL":    "redis://localhost:6379/0",
		"ROOMMATE_NO_TELEMETRY": "false",
		"ROOMMATE_OTLP_TOKEN":   "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://api.local:9000", cfg.APIBase)
	assert.Equal(t, "wss://rt.local", cfg.RealtimeBase)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Session.RedisURL)
	assert.False(t, cfg.Telemetry.Disabled)
	assert.Equal(t, "secret", cfg.Telemetry.Token)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{"bad yaml", "api_base: [", nil},
		{"bad api base", "api_base: ftp://x", nil},
		{"bad realtime base", "realtime_base: ftp://x", nil},
		{"bad duration", "timeout: soon", nil},
		{"negative timeout", "timeout: -1s", nil},
		{"bad log format", "log:\n  format: xml", nil},
		{"bad env duration", "", map[string]string{"ROOMMATE_TIMEOUT": "forever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := tt.env
			if env == nil {
				env = map[string]string{}
			}
			_, err := LoadWithEnv(writeFile(t, tt.content), env)
			assert.Error(t, err)
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1d2h")))
	assert.Equal(t, 26*time.Hour, d.Std())
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1d2h", string(b))
}
