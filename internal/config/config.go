package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/tier"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Postgres PostgresConfig `json:"postgres"`
	Limiter  LimiterConfig  `json:"limiter"`
	KeyCache KeyCacheConfig `json:"key_cache"`
	Recorder RecorderConfig `json:"recorder"`
	Upstream UpstreamConfig `json:"upstream"`
	Ops      OpsConfig      `json:"ops"`

	// Tier overrides merged on top of the built-in plans.
	Tiers []tier.Policy `json:"tiers"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host string `json:"host"`
	Port string `json:"port"`
	DB   int    `json:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type PostgresConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// DSN builds the connection string. The password comes from the secret
// store, never from the config file.
func (p PostgresConfig) DSN(password string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, password, p.Database, p.SSLMode)
}

type LimiterConfig struct {
	Shards      int `json:"shards"`
	WindowHours int `json:"window_hours"`
	TTLSlackMin int `json:"ttl_slack_minutes"`
}

func (l LimiterConfig) Window() time.Duration {
	return time.Duration(l.WindowHours) * time.Hour
}

func (l LimiterConfig) TTLSlack() time.Duration {
	return time.Duration(l.TTLSlackMin) * time.Minute
}

type KeyCacheConfig struct {
	TTLSeconds int `json:"ttl_seconds"`
}

func (k KeyCacheConfig) TTL() time.Duration {
	return time.Duration(k.TTLSeconds) * time.Second
}

type RecorderConfig struct {
	BufferSize    int `json:"buffer_size"`
	BatchSize     int `json:"batch_size"`
	FlushSeconds  int `json:"flush_seconds"`
	WriteTimeoutS int `json:"write_timeout_seconds"`
	RetentionDays int `json:"retention_days"`
}

func (r RecorderConfig) FlushInterval() time.Duration {
	return time.Duration(r.FlushSeconds) * time.Second
}

func (r RecorderConfig) WriteTimeout() time.Duration {
	return time.Duration(r.WriteTimeoutS) * time.Second
}

func (r RecorderConfig) Retention() time.Duration {
	return time.Duration(r.RetentionDays) * 24 * time.Hour
}

type UpstreamConfig struct {
	Targets            []string `json:"targets"`
	Strategy           string   `json:"strategy"`
	HealthPath         string   `json:"health_path"`
	HealthIntervalSecs int      `json:"health_interval_seconds"`
}

func (u UpstreamConfig) HealthInterval() time.Duration {
	return time.Duration(u.HealthIntervalSecs) * time.Second
}

type OpsConfig struct {
	Email          string `json:"email"`
	PasswordBcrypt string `json:"password_bcrypt"`
	JWTExpiryHours int    `json:"jwt_expiry_hours"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Limiter.Shards <= 0 {
		c.Limiter.Shards = 10
	}
	if c.Limiter.WindowHours <= 0 {
		c.Limiter.WindowHours = 24
	}
	if c.Limiter.TTLSlackMin <= 0 {
		c.Limiter.TTLSlackMin = 60
	}
	if c.KeyCache.TTLSeconds <= 0 {
		c.KeyCache.TTLSeconds = 300
	}
	if c.Recorder.BufferSize <= 0 {
		c.Recorder.BufferSize = 1000
	}
	if c.Recorder.BatchSize <= 0 {
		c.Recorder.BatchSize = 100
	}
	if c.Recorder.FlushSeconds <= 0 {
		c.Recorder.FlushSeconds = 5
	}
	if c.Recorder.WriteTimeoutS <= 0 {
		c.Recorder.WriteTimeoutS = 2
	}
	if c.Recorder.RetentionDays <= 0 {
		c.Recorder.RetentionDays = 90
	}
	if c.Upstream.Strategy == "" {
		c.Upstream.Strategy = "round-robin"
	}
	if c.Upstream.HealthPath == "" {
		c.Upstream.HealthPath = "/health"
	}
	if c.Upstream.HealthIntervalSecs <= 0 {
		c.Upstream.HealthIntervalSecs = 10
	}
	if c.Ops.JWTExpiryHours <= 0 {
		c.Ops.JWTExpiryHours = 12
	}
}

// TierTable merges the built-in plans with config overrides.
func (c *Config) TierTable() *tier.Table {
	return tier.NewTable(append(tier.Defaults(), c.Tiers...))
}
