package datastore

import (
	"context"
	"database/sql"
	"errors"

	"animaforge/internal/models"

	"github.com/uptrace/bun"
)

func CreateTableTicketAccount(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*models.TicketAccount)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.TicketAccount)(nil)).Index("index_ticket_account_email").IfNotExists().Unique().Column("email").Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.TicketAccount)(nil)).Index("index_ticket_account_user_id").IfNotExists().Column("user_id").Exec(ctx)
	if err != nil {
		return err
	}

	return nil
}

func FindTicketAccountByUserID(ctx context.Context, db *bun.DB, userID string) (*models.TicketAccount, error) {
	var account models.TicketAccount
	err := db.NewSelect().Model(&account).Where("user_id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func FindTicketAccountByEmail(ctx context.Context, db *bun.DB, email string) (*models.TicketAccount, error) {
	var account models.TicketAccount
	err := db.NewSelect().Model(&account).Where("lower(email) = lower(?)", email).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// InsertTicketAccount creates the account row with the signup grant. The
// unique email index turns a concurrent double-create into a no-op insert;
// callers re-fetch when no row comes back.
func InsertTicketAccount(ctx context.Context, db *bun.DB, account *models.TicketAccount) (bool, error) {
	res, err := db.NewInsert().Model(account).On("CONFLICT (email) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

// LinkTicketAccountUser back-fills the user id on accounts created before the
// user id was known (email-only rows from an earlier signup path).
func LinkTicketAccountUser(ctx context.Context, db *bun.DB, accountID int64, userID string) error {
	_, err := db.NewUpdate().Model((*models.TicketAccount)(nil)).
		Set("user_id = ?", userID).
		Where("id = ? AND user_id IS NULL", accountID).
		Exec(ctx)
	return err
}
