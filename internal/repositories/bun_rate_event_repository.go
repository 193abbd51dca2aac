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

type BunRateEventRepository struct {
	db bun.IDB
}

func NewBunRateEventRepository(db bun.IDB) RateEventRepository {
	return &BunRateEventRepository{db: db}
}

func (r *BunRateEventRepository) Insert(ctx context.Context, event *models.RateWindowEvent) error {
	_, err := r.db.NewInsert().
		Model(event).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert rate event: %w", err)
	}
	return nil
}

func (r *BunRateEventRepository) CountSince(ctx context.Context, identity, clientID string, since time.Time) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.RateWindowEvent)(nil)).
		Where("identity = ?", identity).
		Where("client_id = ?", clientID).
		Where("ts > ?", since).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count rate events: %w", err)
	}
	return count, nil
}

func (r *BunRateEventRepository) OldestSince(ctx context.Context, identity, clientID string, since time.Time) (*models.RateWindowEvent, error) {
	event := new(models.RateWindowEvent)
	err := r.db.NewSelect().
		Model(event).
		Where("identity = ?", identity).
		Where("client_id = ?", clientID).
		Where("ts > ?", since).
		Order("ts ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest rate event: %w", err)
	}
	return event, nil
}

func (r *BunRateEventRepository) CountStale(ctx context.Context, identity string, now time.Time) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.RateWindowEvent)(nil)).
		Where("identity = ?", identity).
		Where("expires_at <= ?", now).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale rate events: %w", err)
	}
	return count, nil
}

func (r *BunRateEventRepository) DeleteStale(ctx context.Context, identity string, now time.Time, limit int) (int, error) {
	// DELETE ... LIMIT is not portable across dialects, so select the
	// victim ids first and delete by id.
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.RateWindowEvent)(nil)).
		Column("id").
		Where("identity = ?", identity).
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return 0, fmt.Errorf("failed to select stale rate events: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := r.db.NewDelete().
		Model((*models.RateWindowEvent)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale rate events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return len(ids), nil
	}
	return int(affected), nil
}
