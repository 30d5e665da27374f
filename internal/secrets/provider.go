// Package secrets retrieves backend credentials once at process start.
// Values are fetched eagerly in main and passed to constructors; no
// package holds a lazily-initialized secret.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Provider fetches a named secret. Implementations must be safe for a
// single retrieval at startup; callers keep the value for the process
// lifetime.
type Provider interface {
	Get(name string) (string, error)
}

// Names of the secrets the gateway needs.
const (
	RedisPassword    = "REDIS_PASSWORD"
	PostgresPassword = "POSTGRES_PASSWORD"
	OpsJWTSecret     = "OPS_JWT_SECRET"
)

// EnvProvider reads secrets from environment variables, which the
// deployment layer populates from its secret manager.
type EnvProvider struct{}

func (EnvProvider) Get(name string) (string, error) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("secret %s not set in environment", name)
	}
	return val, nil
}

// FileProvider reads each secret from <dir>/<name>, the layout used by
// mounted secret volumes.
type FileProvider struct {
	Dir string
}

func (f FileProvider) Get(name string) (string, error) {
	data, err := os.ReadFile(f.Dir + "/" + name)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Bundle holds every secret the gateway uses, resolved once.
type Bundle struct {
	RedisPassword    string
	PostgresPassword string
	OpsJWTSecret     string
}

// LoadBundle resolves all gateway secrets from the provider. A missing
// redis password is tolerated (local redis runs without auth); the
// others are required.
func LoadBundle(p Provider) (*Bundle, error) {
	b := &Bundle{}

	if v, err := p.Get(RedisPassword); err == nil {
		b.RedisPassword = v
	}

	v, err := p.Get(PostgresPassword)
	if err != nil {
		return nil, err
	}
	b.PostgresPassword = v

	v, err = p.Get(OpsJWTSecret)
	if err != nil {
		return nil, err
	}
	b.OpsJWTSecret = v

	return b, nil
}
