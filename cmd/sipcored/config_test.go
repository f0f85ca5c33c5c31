package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5060", cfg.Listen)
	assert.Equal(t, 1024, cfg.Mailbox)
	assert.Equal(t, 500*time.Millisecond, cfg.T1)
	assert.Equal(t, "sipcore:aor:", cfg.Redis.Prefix)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.MySQL.DSN)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sipcored.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 127.0.0.1:5070
upstream: 192.0.2.1:5060
t1: 250ms
redis:
  addr: 127.0.0.1:6379
log:
  level: debug
`), 0o600))
	t.Setenv("SIPCORE_REDIS_ADDR", "10.0.0.1:6379")
	t.Setenv("SIPCORE_MYSQL_DSN", "sip:sip@tcp(127.0.0.1:3306)/sip")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5070", cfg.Listen)
	assert.Equal(t, "192.0.2.1:5060", cfg.Upstream)
	assert.Equal(t, 250*time.Millisecond, cfg.T1)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "10.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, "sip:sip@tcp(127.0.0.1:3306)/sip", cfg.MySQL.DSN)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("SIPCORE_MINEXPIRES", "9000")
	_, err = loadConfig("")
	assert.Error(t, err)
}
