package authz

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// usageBucket is the granularity the decision cache key rounds usage
// down to, so near-identical successive requests share a cache entry.
const usageBucket = 50

// RequestMetadata describes the inbound request being authorized.
type RequestMetadata struct {
	RequestID uuid.UUID
	Endpoint  string
	Method    string
	SourceIP  string
	UserAgent string
}

// DecisionContext is the typed context bag attached to an Allow, and in
// reduced form (retry metadata only) to a quota Deny.
type DecisionContext struct {
	KeyID       *uuid.UUID
	OwnerID     string
	Tier        string
	TierName    string
	CurrentUsage int
	Limit        int
	Remaining    int
	ResetsAt     time.Time
	RatePerSec   float64
}

// Decision is the terminal outcome of authorizing one request.
type Decision struct {
	Allow             bool
	HTTPStatus        int   // 401-equivalent or 429-equivalent on Deny
	Reason            error // nil on Allow; classifies the Deny otherwise
	RetryAfterSeconds int   // only set on a quota Deny
	Context           DecisionContext

	keyHash string
}

// RateLimited reports whether this Deny came from quota exhaustion
// rather than identity failure.
func (d Decision) RateLimited() bool {
	return !d.Allow && d.HTTPStatus == http.StatusTooManyRequests
}

// CacheKey identifies the decision for the caller's short-lived cache.
// Usage is bucketed coarsely so the key stays stable across a burst of
// near-identical requests without fully defeating limit granularity.
func (d Decision) CacheKey() string {
	bucket := d.Context.CurrentUsage - d.Context.CurrentUsage%usageBucket
	return fmt.Sprintf("%s:%d", d.keyHash, bucket)
}

// ContextMap renders the context bag as string pairs for the next hop.
// Identity denies return an empty map: nothing for a prober to learn.
func (d Decision) ContextMap() map[string]string {
	m := make(map[string]string)

	if !d.Allow {
		if d.RateLimited() {
			m["retryAfterSeconds"] = strconv.Itoa(d.RetryAfterSeconds)
			m["currentUsage"] = strconv.Itoa(d.Context.CurrentUsage)
			m["limit"] = strconv.Itoa(d.Context.Limit)
		}
		return m
	}

	m["ownerId"] = d.Context.OwnerID
	m["tier"] = d.Context.Tier
	m["tierName"] = d.Context.TierName
	m["currentUsage"] = strconv.Itoa(d.Context.CurrentUsage)
	m["limit"] = strconv.Itoa(d.Context.Limit)
	m["remaining"] = strconv.Itoa(d.Context.Remaining)
	m["resetsAt"] = strconv.FormatInt(d.Context.ResetsAt.Unix(), 10)
	m["ratePerSec"] = strconv.FormatFloat(d.Context.RatePerSec, 'f', -1, 64)
	return m
}
