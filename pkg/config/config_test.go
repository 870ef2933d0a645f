package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.Client.ConnectTimeout.Std())
	assert.Equal(t, 30, cfg.Client.JoinMaxRetries)
	assert.Equal(t, "freestyle", cfg.Client.Mode)
}

func TestParseMergesOverDefaults(t *testing.T) {
	t.Setenv("COLLAB_TEST_REDIS", "redis.internal:6379")

	cfg, err := Parse([]byte(`
relay:
  listen: 0.0.0.0:9000
  redis:
    addr: ${COLLAB_TEST_REDIS}
    room_ttl: 24h
client:
  mode: restricted
  join_retry_delay: 500ms
  identity:
    uid: ${COLLAB_TEST_UID:-alice}
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Relay.Listen)
	assert.Equal(t, "redis.internal:6379", cfg.Relay.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Relay.Redis.RoomTTL.Std())
	assert.Equal(t, "restricted", cfg.Client.Mode)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.JoinRetryDelay.Std())
	assert.Equal(t, "alice", cfg.Client.Identity.UID)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Client.CursorTTL, cfg.Client.CursorTTL)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad duration", "client:\n  echo_window: soon\n", "invalid duration"},
		{"negative duration", "client:\n  cursor_ttl: -1s\n", "client.cursor_ttl must not be negative"},
		{"bad mode", "client:\n  mode: anarchy\n", "client.mode"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"missing listen", "relay:\n  listen: \"\"\n", "relay.listen is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvConfig, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "collab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay:\n  listen: 127.0.0.1:7000\n"), 0o600))

	t.Setenv(EnvConfig, path)
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Relay.Listen)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, "d: 1.5s\n", string(out))
}
