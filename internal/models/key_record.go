package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Key lifecycle states. Only active keys resolve; revoked and rotating
// keys are indistinguishable from unknown keys to callers.
const (
	KeyStatusActive   = "active"
	KeyStatusRevoked  = "revoked"
	KeyStatusRotating = "rotating"
)

// KeyRecord is the durable identity record behind an API key. The raw key
// is never stored; lookups go through its SHA-256 hash. Records are
// created and mutated by the provisioning service - this gateway only
// reads them (plus a last-used touch).
type KeyRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	KeyHash   string    `gorm:"uniqueIndex;not null" json:"-"`
	OwnerID   string    `gorm:"index;not null" json:"owner_id"`
	Tier      string    `gorm:"default:'free'" json:"tier"`
	Status    string    `gorm:"default:'active'" json:"status"`

	// Per-key overrides. Zero means "use the tier policy value";
	// OverrideQuota of -1 means unlimited.
	OverrideQuota int     `json:"override_quota,omitempty"`
	OverrideRate  float64 `json:"override_rate,omitempty"`
	OverrideBurst int     `json:"override_burst,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (k *KeyRecord) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}

func (KeyRecord) TableName() string {
	return "key_records"
}

// Usable reports whether the record may authorize requests right now.
func (k *KeyRecord) Usable() bool {
	if k.Status != KeyStatusActive {
		return false
	}
	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return false
	}
	return true
}
