package repository

import (
	"context"
	"time"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/models"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/storage"
)

type UsageEventRepository struct {
	db *storage.Postgres
}

func NewUsageEventRepository(db *storage.Postgres) *UsageEventRepository {
	return &UsageEventRepository{db: db}
}

// CreateBatch appends a batch of events. Events are write-once; nothing
// in the gateway ever updates them.
func (r *UsageEventRepository) CreateBatch(ctx context.Context, events []models.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}

func (r *UsageEventRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

func (r *UsageEventRepository) CountByStatusRange(ctx context.Context, minStatus, maxStatus int, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("status_code BETWEEN ? AND ? AND timestamp BETWEEN ? AND ?", minStatus, maxStatus, from, to).
		Count(&count).Error

	return count, err
}

func (r *UsageEventRepository) CountThrottled(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("rate_limit_exceeded = ? AND timestamp BETWEEN ? AND ?", true, from, to).
		Count(&count).Error

	return count, err
}

func (r *UsageEventRepository) AverageLatency(ctx context.Context, from, to time.Time) (float64, error) {
	var avg float64
	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("COALESCE(AVG(latency_ms), 0)").
		Scan(&avg).Error

	return avg, err
}

// LatencyPercentile computes a latency percentile in SQL.
func (r *UsageEventRepository) LatencyPercentile(ctx context.Context, from, to time.Time, percentile float64) (int, error) {
	var result int
	query := `
		SELECT COALESCE(PERCENTILE_CONT(?) WITHIN GROUP (ORDER BY latency_ms), 0)
		FROM usage_events
		WHERE timestamp BETWEEN ? AND ?
	`

	err := r.db.DB.WithContext(ctx).Raw(query, percentile, from, to).Scan(&result).Error
	return result, err
}

type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int64  `json:"count"`
}

func (r *UsageEventRepository) TopEndpoints(ctx context.Context, from, to time.Time, limit int) ([]EndpointCount, error) {
	var results []EndpointCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Select("endpoint, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("endpoint").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

type OwnerCount struct {
	OwnerID string `json:"owner_id"`
	Tier    string `json:"tier"`
	Count   int64  `json:"count"`
}

func (r *UsageEventRepository) TopOwners(ctx context.Context, from, to time.Time, limit int) ([]OwnerCount, error) {
	var results []OwnerCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Select("owner_id, tier, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ? AND owner_id <> ''", from, to).
		Group("owner_id, tier").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// DeleteBefore trims events past the retention horizon.
func (r *UsageEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.UsageEvent{})

	return result.RowsAffected, result.Error
}
