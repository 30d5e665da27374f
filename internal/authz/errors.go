package authz

import (
	"errors"
	"fmt"
	"time"
)

// ErrIdentityUnresolved covers malformed, unknown and inactive keys.
// Surfaced as a Deny decision with no quota context.
var ErrIdentityUnresolved = errors.New("identity unresolved")

// ErrBackendUnavailable marks a backend failure on the identity read
// path. Identity fails closed, so this also becomes a Deny.
var ErrBackendUnavailable = errors.New("backend unavailable")

// QuotaExceededError is the expected throttling outcome. It carries the
// retry metadata intended for the legitimate caller.
type QuotaExceededError struct {
	CurrentUsage      int
	Limit             int
	ResetsAt          time.Time
	RetryAfterSeconds int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d/%d, retry in %ds", e.CurrentUsage, e.Limit, e.RetryAfterSeconds)
}

// ConfigurationError marks a key pointing at an unknown tier id. The
// request continues on the most restrictive known tier; the error only
// exists to be logged.
type ConfigurationError struct {
	TierID string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown tier %q, falling back to most restrictive", e.TierID)
}
