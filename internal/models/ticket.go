package models

import (
	"time"

	"github.com/uptrace/bun"
)

const SIGNUP_TICKET_GRANT = 5

const (
	REASON_SIGNUP_BONUS   = "signup_bonus"
	REASON_GENERATE       = "generate"
	REASON_GENERATE_VIDEO = "generate_video"
	REASON_REFUND         = "refund"
	REASON_DAILY_BONUS    = "daily_bonus"
)

// TicketAccount holds the prepaid balance for one user. Accounts are created
// lazily on first authenticated access; the balance never goes below zero and
// is only ever mutated through the atomic ledger functions.
type TicketAccount struct {
	bun.BaseModel `bun:"table:ticket_account"`
	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Email         string    `bun:"email" json:"email"`
	UserID        *string   `bun:"user_id" json:"user_id"`
	Tickets       int       `bun:"tickets" json:"tickets"`
	CreatedAt     time.Time `bun:"created_at,default:current_timestamp" json:"created_at"`
}

// TicketEvent is one append-only ledger entry. UsageID is the idempotency
// key: a second insert with the same usage id is a no-op. Refunds for usage
// id U are stored under "U:refund".
type TicketEvent struct {
	bun.BaseModel `bun:"table:ticket_event"`
	ID            int64          `bun:"id,pk,autoincrement" json:"id"`
	UsageID       string         `bun:"usage_id" json:"usage_id"`
	Email         string         `bun:"email" json:"email"`
	UserID        *string        `bun:"user_id" json:"user_id"`
	Delta         int            `bun:"delta" json:"delta"`
	Reason        string         `bun:"reason" json:"reason"`
	Metadata      map[string]any `bun:"metadata,type:jsonb" json:"metadata"`
	CreatedAt     time.Time      `bun:"created_at,default:current_timestamp" json:"created_at"`
}

// DailyBonusState tracks the once-per-window bonus for one account.
// next_eligible_at only ever moves forward.
type DailyBonusState struct {
	bun.BaseModel  `bun:"table:daily_bonus_state"`
	TicketID       int64      `bun:"ticket_id,pk" json:"ticket_id"`
	NextEligibleAt time.Time  `bun:"next_eligible_at" json:"next_eligible_at"`
	LastClaimedAt  *time.Time `bun:"last_claimed_at" json:"last_claimed_at"`
	ClaimCount     int        `bun:"claim_count" json:"claim_count"`
}
