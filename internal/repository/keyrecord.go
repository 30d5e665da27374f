package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/models"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/storage"
)

// KeyRecordRepository is the read path into the key directory's durable
// store. Provisioning, rotation and revocation live in a separate
// service; the gateway only resolves keys and touches last-used.
type KeyRecordRepository struct {
	db *storage.Postgres
}

func NewKeyRecordRepository(db *storage.Postgres) *KeyRecordRepository {
	return &KeyRecordRepository{db: db}
}

// FindByHash looks up a key record by its SHA-256 hash. A missing record
// returns (nil, nil); status filtering is the caller's concern so that
// revoked and absent stay distinguishable internally.
func (r *KeyRecordRepository) FindByHash(ctx context.Context, hash string) (*models.KeyRecord, error) {
	var rec models.KeyRecord
	err := r.db.DB.WithContext(ctx).
		Where("key_hash = ?", hash).
		First(&rec).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &rec, err
}

func (r *KeyRecordRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.KeyRecord{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
}
