package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovsrestd/backend/pkg/constants"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ovsrestd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "schema:\n  path: schema.json\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, constants.DefaultURIPrefix, cfg.Server.Prefix)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, constants.DefaultReconnectInterval, cfg.Replica.ReconnectInterval)
	assert.Equal(t, constants.DefaultTxnTimeout, cfg.Transaction.Timeout)
	assert.Equal(t, constants.DefaultReapSchedule, cfg.Transaction.ReapSchedule)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
  prefix: api/
schema:
  path: schema.json
store:
  driver: mysql
  database: switchdb
transaction:
  timeout: 5s
  pending_ttl: 1m
`)
	t.Setenv("OVSRESTD_TXN_TIMEOUT", "10s")
	t.Setenv("OVSRESTD_LOG_DEBUG", "yes")
	t.Setenv("TIDB_HOST", "db.internal")
	t.Setenv("TIDB_DATABASE", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "/api", cfg.Server.Prefix)
	assert.Equal(t, 10*time.Second, cfg.Transaction.Timeout)
	assert.Equal(t, time.Minute, cfg.Transaction.PendingTTL)
	assert.True(t, cfg.Log.Debug)
	assert.Equal(t, "db.internal", cfg.Store.Host)
	assert.Equal(t, "switchdb", cfg.Store.Database, "yaml wins over TIDB_* fallbacks")

	sql := cfg.Store.SQL()
	assert.Equal(t, "db.internal", sql.Host)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		msg  string
	}{
		{name: "Missing Schema", body: "server:\n  addr: :1\n"},
		{name: "Unknown Driver", body: "schema:\n  path: s.json\nstore:\n  driver: etcd\n"},
		{name: "MySQL Without Host", body: "schema:\n  path: s.json\nstore:\n  driver: mysql\n"},
		{name: "TTL Shorter Than Timeout", body: "schema:\n  path: s.json\ntransaction:\n  timeout: 1m\n  pending_ttl: 1s\n"},
		{name: "Root Prefix", body: "schema:\n  path: s.json\nserver:\n  prefix: /\n"},
		{name: "Negative Reconnect Interval", body: "schema:\n  path: s.json\nreplica:\n  reconnect_interval: -1s\n", msg: "replica.reconnect_interval must be positive"},
		{name: "Negative Ready Timeout", body: "schema:\n  path: s.json\nreplica:\n  ready_timeout: -2s\n", msg: "replica.ready_timeout must be positive"},
		{name: "Negative Timeout", body: "schema:\n  path: s.json\n", env: map[string]string{"OVSRESTD_TXN_TIMEOUT": "-5s"}, msg: "transaction.timeout must be positive"},
		{name: "Negative Pending TTL", body: "schema:\n  path: s.json\ntransaction:\n  pending_ttl: -1s\n", msg: "transaction.pending_ttl must be positive"},
		{name: "Bad Duration", body: "schema:\n  path: s.json\n", env: map[string]string{"OVSRESTD_READY_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TIDB_HOST", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("OVSRESTD_SCHEMA", "/etc/ovsrestd/schema.json")
	t.Setenv("OVSRESTD_STORE_LATENCY", "20ms")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/etc/ovsrestd/schema.json", cfg.Schema.Path)
	assert.Equal(t, 20*time.Millisecond, cfg.Store.Latency)
}
