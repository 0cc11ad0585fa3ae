package datastore

import (
	"context"
	"database/sql"
	"errors"

	"animaforge/internal/models"

	"github.com/uptrace/bun"
)

func CreateTableDailyBonusState(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*models.DailyBonusState)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.DailyBonusState)(nil)).Index("index_daily_bonus_next_eligible_at").IfNotExists().Column("next_eligible_at").Exec(ctx)
	if err != nil {
		return err
	}

	return nil
}

func GetDailyBonusState(ctx context.Context, db *bun.DB, ticketID int64) (*models.DailyBonusState, error) {
	var state models.DailyBonusState
	err := db.NewSelect().Model(&state).Where("ticket_id = ?", ticketID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}
