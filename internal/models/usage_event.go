package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageEvent is one append-only analytics record per request, admitted or
// not. It is independent of the quota counters: an event always exists,
// a counter increment only exists for admitted-and-successful requests.
type UsageEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"index" json:"request_id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`

	KeyID   *uuid.UUID `gorm:"index" json:"key_id,omitempty"`
	OwnerID string     `gorm:"index" json:"owner_id,omitempty"`
	Tier    string     `json:"tier,omitempty"`

	Endpoint  string `gorm:"index" json:"endpoint"`
	Method    string `json:"method"`
	StatusCode int   `gorm:"index" json:"status_code"`
	LatencyMs  int   `json:"latency_ms"`

	CacheHit          bool `json:"cache_hit"`
	RateLimitExceeded bool `json:"rate_limit_exceeded"`
}

func (UsageEvent) TableName() string {
	return "usage_events"
}
