package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/GoDuraStore/go-dura-store/models"
)

type BunRecordRepository struct {
	db bun.IDB
}

func NewBunRecordRepository(db bun.IDB) RecordRepository {
	return &BunRecordRepository{db: db}
}

func (r *BunRecordRepository) GetByKey(ctx context.Context, identity, key string) (*models.Record, error) {
	record := new(models.Record)
	err := r.db.NewSelect().
		Model(record).
		Where("identity = ?", identity).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

func (r *BunRecordRepository) Upsert(ctx context.Context, record *models.Record) error {
	_, err := r.db.NewInsert().
		Model(record).
		On("CONFLICT (identity, key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("ttl_ms = EXCLUDED.ttl_ms").
		Set("expires_at = EXCLUDED.expires_at").
		Set("last_accessed_at = EXCLUDED.last_accessed_at").
		Set("access_count = records.access_count + 1").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (r *BunRecordRepository) Touch(ctx context.Context, identity, key string, accessedAt time.Time, newExpiresAt *time.Time) error {
	query := r.db.NewUpdate().
		Model((*models.Record)(nil)).
		Set("last_accessed_at = ?", accessedAt).
		Set("access_count = access_count + 1").
		Where("identity = ?", identity).
		Where("key = ?", key)

	if newExpiresAt != nil {
		query = query.Set("expires_at = ?", *newExpiresAt)
	}

	if _, err := query.Exec(ctx); err != nil {
		return fmt.Errorf("failed to touch record: %w", err)
	}
	return nil
}

func (r *BunRecordRepository) Delete(ctx context.Context, identity, key string) error {
	_, err := r.db.NewDelete().
		Model((*models.Record)(nil)).
		Where("identity = ?", identity).
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	// Idempotent: do not return error if key does not exist
	return nil
}

func (r *BunRecordRepository) DeleteKeys(ctx context.Context, identity string, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	res, err := r.db.NewDelete().
		Model((*models.Record)(nil)).
		Where("identity = ?", identity).
		Where("key IN (?)", bun.In(keys)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (r *BunRecordRepository) Count(ctx context.Context, identity string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.Record)(nil)).
		Where("identity = ?", identity).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func (r *BunRecordRepository) CountExpired(ctx context.Context, identity string, now time.Time) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.Record)(nil)).
		Where("identity = ?", identity).
		Where("expires_at <= ?", now).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired records: %w", err)
	}
	return count, nil
}

func (r *BunRecordRepository) SelectExpired(ctx context.Context, identity string, now time.Time, limit int) ([]models.Record, error) {
	var records []models.Record
	err := r.db.NewSelect().
		Model(&records).
		Where("identity = ?", identity).
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired records: %w", err)
	}
	return records, nil
}

func (r *BunRecordRepository) SelectEvictionVictims(ctx context.Context, identity string, limit int) ([]models.Record, error) {
	var records []models.Record
	err := r.db.NewSelect().
		Model(&records).
		Where("identity = ?", identity).
		Order("last_accessed_at ASC", "created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to select eviction victims: %w", err)
	}
	return records, nil
}
