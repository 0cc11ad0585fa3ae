package services

import (
	"context"
	"time"

	"animaforge/internal/datastore"
	"animaforge/internal/models"

	"github.com/go-redsync/redsync/v4"
	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/samber/do"
	"github.com/uptrace/bun"
)

// BonusStatus is the eligibility view returned by the bonus status endpoint.
type BonusStatus struct {
	CanClaim       bool       `json:"canClaim"`
	NextEligibleAt time.Time  `json:"nextEligibleAt"`
	LastClaimedAt  *time.Time `json:"lastClaimedAt"`
	ClaimCount     int        `json:"claimCount"`
	Tickets        int        `json:"tickets"`
}

// BonusClaim is the result of one claim attempt.
type BonusClaim struct {
	Granted        bool       `json:"granted"`
	TicketsLeft    int        `json:"ticketsLeft"`
	NextEligibleAt *time.Time `json:"nextEligibleAt"`
	Message        string     `json:"message,omitempty"`
}

type ServiceBonus struct {
	container  *do.Injector
	postgresDB *bun.DB
	tickets    *ServiceTickets
	rs         *redsync.Redsync
}

func NewServiceBonus(container *do.Injector) (*ServiceBonus, error) {
	postgresDB, err := do.Invoke[*bun.DB](container)
	if err != nil {
		return nil, err
	}

	tickets, err := do.Invoke[*ServiceTickets](container)
	if err != nil {
		return nil, err
	}

	rs, err := do.Invoke[*redsync.Redsync](container)
	if err != nil {
		return nil, err
	}

	return &ServiceBonus{container, postgresDB, tickets, rs}, nil
}

// Status reports whether the user can claim right now. Accounts with no
// claim history are eligible 24h after signup; the state row is created
// lazily by the first claim.
func (service *ServiceBonus) Status(ctx context.Context, user *models.AuthUser) (*BonusStatus, error) {
	account, _, err := service.tickets.EnsureAccount(ctx, user)
	if err != nil {
		return nil, err
	}

	state, err := datastore.GetDailyBonusState(ctx, service.postgresDB, account.ID)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.Service)
	}

	canClaim, nextEligibleAt := bonusEligibility(account.CreatedAt, state, time.Now())
	status := &BonusStatus{
		CanClaim:       canClaim,
		NextEligibleAt: nextEligibleAt,
		Tickets:        account.Tickets,
	}
	if state != nil {
		status.LastClaimedAt = state.LastClaimedAt
		status.ClaimCount = state.ClaimCount
	}
	return status, nil
}

// bonusEligibility computes the claim window. Accounts with no claim history
// are seeded at created_at plus the wait; once a state row exists its
// next_eligible_at wins, and the claim function only ever moves it forward.
func bonusEligibility(createdAt time.Time, state *models.DailyBonusState, now time.Time) (bool, time.Time) {
	nextEligibleAt := createdAt.Add(BONUS_WAIT)
	if state != nil {
		nextEligibleAt = state.NextEligibleAt
	}
	return !now.Before(nextEligibleAt), nextEligibleAt
}

// Claim grants the daily ticket if the cooldown has elapsed. The database
// function owns the eligibility decision; the mutex only keeps concurrent
// claims from the same account off the row lock.
func (service *ServiceBonus) Claim(ctx context.Context, user *models.AuthUser) (*BonusClaim, error) {
	account, _, err := service.tickets.EnsureAccount(ctx, user)
	if err != nil {
		return nil, err
	}

	mutex := service.rs.NewMutex(LockKeyBonusClaim(account.ID), redsync.WithExpiry(10*time.Second), redsync.WithTries(1))
	if err := mutex.Lock(); err != nil {
		return nil, errorx.Wrap(ErrSettlementLock, errorx.RateLimiting)
	}
	//nolint:errcheck
	defer mutex.Unlock()

	var userID string
	if user != nil {
		userID = user.ID
	}
	result, err := datastore.ClaimDailyBonus(ctx, service.postgresDB, account.Email, userID)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.Service)
	}

	claim := &BonusClaim{
		Granted:     result.Granted,
		TicketsLeft: result.TicketsLeft,
		Message:     result.Message,
	}
	if !result.NextEligibleAt.IsZero() {
		next := result.NextEligibleAt
		claim.NextEligibleAt = &next
	}
	return claim, nil
}
