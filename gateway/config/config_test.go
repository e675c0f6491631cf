package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	var cfg Config

	assert.Equal(t, 8080, cfg.GetHTTPPort())
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, "hey-gateway", cfg.GetServiceName())
	assert.Equal(t, 1024, cfg.WSConfig.GetReadBufferSize())
	assert.Error(t, cfg.Validate())

	cfg.Service.HTTPPort = 70000
	assert.Equal(t, 8080, cfg.GetHTTPPort())

	cfg.Auth.Secret = "s"
	cfg.Postgres.Host = "localhost"
	assert.NoError(t, cfg.Validate())
}

func TestConnOptions(t *testing.T) {
	ws := WSConfig{MaxMessageSize: 64, PingInterval: 30, PongTimeout: 60, SendBuffer: 128}
	opts := ws.ConnOptions()

	assert.Equal(t, int64(64*1024), opts.MaxMessageSize)
	assert.Equal(t, 30*time.Second, opts.PingInterval)
	assert.Equal(t, 60*time.Second, opts.PongTimeout)
	assert.Equal(t, 128, opts.SendBuffer)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	yaml := `service:
  name: hey-test
  http_port: 9090
auth:
  secret: s3cret
postgres:
  host: db.internal
ws_config:
  send_buffer: 32
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "gateway.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "hey-test", cfg.GetServiceName())
	assert.Equal(t, 9090, cfg.GetHTTPPort())
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 32, cfg.WSConfig.SendBuffer)
	assert.NoError(t, cfg.Validate())
}
