package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 10, cfg.Limiter.Shards)
	assert.Equal(t, 24*time.Hour, cfg.Limiter.Window())
	assert.Equal(t, time.Hour, cfg.Limiter.TTLSlack())
	assert.Equal(t, 5*time.Minute, cfg.KeyCache.TTL())
	assert.Equal(t, 1000, cfg.Recorder.BufferSize)
	assert.Equal(t, "round-robin", cfg.Upstream.Strategy)
	assert.Equal(t, "/health", cfg.Upstream.HealthPath)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"server": {"port": "9090"},
		"limiter": {"shards": 4, "window_hours": 1},
		"upstream": {"targets": ["http://backend-1:3001"], "strategy": "random"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Limiter.Shards)
	assert.Equal(t, time.Hour, cfg.Limiter.Window())
	assert.Equal(t, []string{"http://backend-1:3001"}, cfg.Upstream.Targets)
	assert.Equal(t, "random", cfg.Upstream.Strategy)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	_, err := Load(writeConfig(t, `{"server":`))
	assert.Error(t, err)
}

func TestPostgresDSNKeepsPasswordOutOfConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"postgres": {"host": "db", "port": "5432", "user": "gateway", "database": "getcomplical"}
	}`))
	require.NoError(t, err)

	dsn := cfg.Postgres.DSN("fromsecrets")
	assert.Contains(t, dsn, "host=db")
	assert.Contains(t, dsn, "password=fromsecrets")
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestTierTableMergesOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"tiers": [{"id": "free", "display_name": "Free", "daily_quota": 500, "rate_per_sec": 5}]
	}`))
	require.NoError(t, err)

	table := cfg.TierTable()
	p, ok := table.Get("free")
	require.True(t, ok)
	assert.Equal(t, 500, p.DailyQuota, "config override replaces the built-in plan")

	_, ok = table.Get("pro")
	assert.True(t, ok, "untouched built-in plans survive the merge")
}
