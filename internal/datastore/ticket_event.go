package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"animaforge/internal/models"

	"github.com/uptrace/bun"
)

func CreateTableTicketEvent(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*models.TicketEvent)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}

	// The idempotency guarantee for charge/refund lives in this index.
	_, err = db.NewCreateIndex().Model((*models.TicketEvent)(nil)).Index("index_ticket_event_usage_id").IfNotExists().Unique().Column("usage_id").Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.TicketEvent)(nil)).Index("index_ticket_event_user_id").IfNotExists().Column("user_id").Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.TicketEvent)(nil)).Index("index_ticket_event_created_at").IfNotExists().Column("created_at").Exec(ctx)
	if err != nil {
		return err
	}

	return nil
}

func GetTicketEventByUsageID(ctx context.Context, db *bun.DB, usageID string) (*models.TicketEvent, error) {
	var event models.TicketEvent
	err := db.NewSelect().Model(&event).Where("usage_id = ?", usageID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func InsertTicketEvent(ctx context.Context, db *bun.DB, event *models.TicketEvent) error {
	_, err := db.NewInsert().Model(event).On("CONFLICT (usage_id) DO NOTHING").Exec(ctx)
	return err
}

type ConsumeResult struct {
	TicketsLeft     int  `bun:"tickets_left"`
	AlreadyConsumed bool `bun:"already_consumed"`
}

type RefundResult struct {
	TicketsLeft     int  `bun:"tickets_left"`
	AlreadyRefunded bool `bun:"already_refunded"`
}

type ClaimResult struct {
	Granted        bool      `bun:"granted"`
	TicketsLeft    int       `bun:"tickets_left"`
	NextEligibleAt time.Time `bun:"next_eligible_at"`
	Message        string    `bun:"message"`
}

// ConsumeTickets invokes the atomic consume_tickets function. The function
// performs the existence check, balance check and decrement in one database
// transaction; retries with the same usage id come back already_consumed.
func ConsumeTickets(ctx context.Context, db *bun.DB, accountID int64, usageID string, cost int, reason string, metadata map[string]any) (*ConsumeResult, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}

	var result ConsumeResult
	err = db.NewRaw(
		"SELECT tickets_left, already_consumed FROM consume_tickets(?, ?, ?, ?, ?::jsonb)",
		accountID, usageID, cost, reason, string(meta),
	).Scan(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RefundTickets invokes the atomic refund_tickets function with the derived
// "<usage-id>:refund" key; a duplicate refund comes back already_refunded.
func RefundTickets(ctx context.Context, db *bun.DB, accountID int64, refundUsageID string, amount int, reason string, metadata map[string]any) (*RefundResult, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}

	var result RefundResult
	err = db.NewRaw(
		"SELECT tickets_left, already_refunded FROM refund_tickets(?, ?, ?, ?, ?::jsonb)",
		accountID, refundUsageID, amount, reason, string(meta),
	).Scan(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ClaimDailyBonus invokes the atomic claim_daily_bonus function, a single
// check-and-update that cannot double-grant under concurrent claims.
func ClaimDailyBonus(ctx context.Context, db *bun.DB, email string, userID string) (*ClaimResult, error) {
	var result ClaimResult
	err := db.NewRaw(
		"SELECT granted, tickets_left, next_eligible_at, message FROM claim_daily_bonus(?, ?)",
		email, userID,
	).Scan(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListUnsettledCharges returns up-front image charges older than cutoff that
// carry a job id and have no terminal resolution yet: no refund event and no
// recorded outcome in their metadata. Video charges are excluded because they
// are only ever written on a terminal success. Used by the reconcile sweeper.
func ListUnsettledCharges(ctx context.Context, db *bun.DB, cutoff time.Time, limit int) ([]*models.TicketEvent, error) {
	var events []*models.TicketEvent
	err := db.NewSelect().Model(&events).
		Where("delta < 0").
		Where("reason = ?", models.REASON_GENERATE).
		Where("metadata ->> 'job_id' IS NOT NULL").
		Where("metadata ->> 'outcome' IS NULL").
		Where("created_at < ?", cutoff).
		Where("NOT EXISTS (SELECT 1 FROM ticket_event r WHERE r.usage_id = ticket_event.usage_id || ':refund')").
		OrderExpr("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// SetChargeJobID merges the dispatched provider job id into the charge
// event's metadata. Image charges are written before dispatch and only learn
// their job id here; the sweeper cannot re-poll a charge without it.
func SetChargeJobID(ctx context.Context, db *bun.DB, usageID string, jobID string) error {
	_, err := db.NewUpdate().Model((*models.TicketEvent)(nil)).
		Set("metadata = coalesce(metadata, '{}'::jsonb) || jsonb_build_object('job_id', ?::text)", jobID).
		Where("usage_id = ?", usageID).
		Exec(ctx)
	return err
}

// MarkChargeOutcome records a terminal outcome on the charge event so the
// sweeper stops re-polling it. Refunds exclude themselves through the
// ":refund" sibling row; successes have no sibling and need this marker.
func MarkChargeOutcome(ctx context.Context, db *bun.DB, usageID string, outcome string) error {
	_, err := db.NewUpdate().Model((*models.TicketEvent)(nil)).
		Set("metadata = coalesce(metadata, '{}'::jsonb) || jsonb_build_object('outcome', ?::text)", outcome).
		Where("usage_id = ?", usageID).
		Exec(ctx)
	return err
}
