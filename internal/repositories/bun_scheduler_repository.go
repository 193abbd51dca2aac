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

type BunSchedulerRepository struct {
	db bun.IDB
}

func NewBunSchedulerRepository(db bun.IDB) SchedulerRepository {
	return &BunSchedulerRepository{db: db}
}

func (r *BunSchedulerRepository) Get(ctx context.Context, identity string) (*models.SchedulerState, error) {
	state := new(models.SchedulerState)
	err := r.db.NewSelect().
		Model(state).
		Where("identity = ?", identity).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduler state: %w", err)
	}
	return state, nil
}

func (r *BunSchedulerRepository) SetNextWake(ctx context.Context, identity string, at time.Time) error {
	state := &models.SchedulerState{
		Identity: identity,
		NextWake: &at,
	}

	// Overwrite, never append: one pending wake per identity.
	_, err := r.db.NewInsert().
		Model(state).
		On("CONFLICT (identity) DO UPDATE").
		Set("next_wake = EXCLUDED.next_wake").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set next wake: %w", err)
	}
	return nil
}

func (r *BunSchedulerRepository) ListPending(ctx context.Context) ([]models.SchedulerState, error) {
	var states []models.SchedulerState
	err := r.db.NewSelect().
		Model(&states).
		Where("next_wake IS NOT NULL").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending wakes: %w", err)
	}
	return states, nil
}
