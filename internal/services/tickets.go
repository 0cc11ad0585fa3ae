package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"animaforge/internal/datastore"
	"animaforge/internal/models"

	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/uptrace/bun"
)

// NewUsageID mints a fresh idempotency token for flows that charge at
// submission time.
func NewUsageID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%d-%x", time.Now().UnixMilli(), rand.Int63())
	}
	return id.String()
}

// JobUsageID derives a deterministic token from the provider's job id so
// repeated status polls for the same job collapse onto one charge/refund.
func JobUsageID(namespace string, jobID string) string {
	return fmt.Sprintf("%s:%s", namespace, jobID)
}

// RefundUsageID is the derived idempotency key for the refund of a charge.
func RefundUsageID(usageID string) string {
	return usageID + ":refund"
}

type ChargeReceipt struct {
	TicketsLeft     int  `json:"tickets_left"`
	AlreadyConsumed bool `json:"already_consumed"`
}

type RefundReceipt struct {
	TicketsLeft     int  `json:"tickets_left"`
	AlreadyRefunded bool `json:"already_refunded"`
	Skipped         bool `json:"skipped"`
}

type ServiceTickets struct {
	container  *do.Injector
	postgresDB *bun.DB
}

func NewServiceTickets(container *do.Injector) (*ServiceTickets, error) {
	postgresDB, err := do.Invoke[*bun.DB](container)
	if err != nil {
		return nil, err
	}

	return &ServiceTickets{container, postgresDB}, nil
}

// FetchAccount looks up the account by user id first, falling back to email
// for rows created before a user id was linked.
func (service *ServiceTickets) FetchAccount(ctx context.Context, user *models.AuthUser) (*models.TicketAccount, error) {
	account, err := datastore.FindTicketAccountByUserID(ctx, service.postgresDB, user.ID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}
	if user.Email == "" {
		return nil, nil
	}
	return datastore.FindTicketAccountByEmail(ctx, service.postgresDB, user.Email)
}

// EnsureAccount creates the account with the signup grant on first access.
// An insert losing the unique-email race is the expected concurrent-creation
// case: re-fetch and return the winner's row.
func (service *ServiceTickets) EnsureAccount(ctx context.Context, user *models.AuthUser) (*models.TicketAccount, bool, error) {
	if user.Email == "" {
		return nil, false, ErrNoEmail
	}

	existing, err := service.FetchAccount(ctx, user)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	userID := user.ID
	account := &models.TicketAccount{
		Email:   user.Email,
		UserID:  &userID,
		Tickets: models.SIGNUP_TICKET_GRANT,
	}
	inserted, err := datastore.InsertTicketAccount(ctx, service.postgresDB, account)
	if err != nil || !inserted {
		retry, retryErr := service.FetchAccount(ctx, user)
		if retryErr != nil {
			return nil, false, retryErr
		}
		if retry == nil {
			return nil, false, ErrNoTicketAccount
		}
		return retry, false, nil
	}

	grantEvent := &models.TicketEvent{
		UsageID:  NewUsageID(),
		Email:    user.Email,
		UserID:   &userID,
		Delta:    models.SIGNUP_TICKET_GRANT,
		Reason:   models.REASON_SIGNUP_BONUS,
		Metadata: map[string]any{"source": "auto_grant"},
	}
	if err := datastore.InsertTicketEvent(ctx, service.postgresDB, grantEvent); err != nil {
		log.Printf("signup grant event for %s: %v", user.Email, err)
	}

	return account, true, nil
}

// EnsureAvailable checks the balance before dispatch when the cost is known
// upfront, back-filling a missing user-id link along the way.
func (service *ServiceTickets) EnsureAvailable(ctx context.Context, user *models.AuthUser, requiredTickets int) (*models.TicketAccount, error) {
	account, _, err := service.EnsureAccount(ctx, user)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrNoTicketAccount
	}

	if account.UserID == nil {
		if err := datastore.LinkTicketAccountUser(ctx, service.postgresDB, account.ID, user.ID); err != nil {
			log.Printf("link ticket account %d: %v", account.ID, err)
		}
	}

	if account.Tickets < requiredTickets {
		return nil, ErrInsufficientTickets
	}

	return account, nil
}

// Charge applies the debit through the atomic consume function. Calling it
// again with the same usage id returns the current balance with
// AlreadyConsumed set and no second decrement.
func (service *ServiceTickets) Charge(ctx context.Context, user *models.AuthUser, usageID string, cost int, reason string, metadata map[string]any) (*ChargeReceipt, error) {
	if cost < 1 {
		cost = 1
	}

	account, _, err := service.EnsureAccount(ctx, user)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrNoTicketAccount
	}
	if account.UserID == nil {
		if err := datastore.LinkTicketAccountUser(ctx, service.postgresDB, account.ID, user.ID); err != nil {
			log.Printf("link ticket account %d: %v", account.ID, err)
		}
	}

	result, err := datastore.ConsumeTickets(ctx, service.postgresDB, account.ID, usageID, cost, reason, metadata)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	return &ChargeReceipt{TicketsLeft: result.TicketsLeft, AlreadyConsumed: result.AlreadyConsumed}, nil
}

// Refund credits back the charge recorded under usageID. A charge belonging
// to a different user is skipped rather than failed; see the distinct log
// line, this is deliberate anti-abuse behavior.
func (service *ServiceTickets) Refund(ctx context.Context, user *models.AuthUser, usageID string, amount int, reason string, metadata map[string]any) (*RefundReceipt, error) {
	if amount < 1 {
		amount = 1
	}
	if user.Email == "" || usageID == "" {
		return &RefundReceipt{Skipped: true}, nil
	}

	chargeEvent, err := datastore.GetTicketEventByUsageID(ctx, service.postgresDB, usageID)
	if err != nil {
		return nil, err
	}
	if chargeEvent == nil || !eventBelongsTo(chargeEvent, user) {
		log.Printf("refund skipped: usage id %q does not belong to user %s", usageID, user.ID)
		return &RefundReceipt{Skipped: true}, nil
	}

	refundID := RefundUsageID(usageID)
	existingRefund, err := datastore.GetTicketEventByUsageID(ctx, service.postgresDB, refundID)
	if err != nil {
		return nil, err
	}
	if existingRefund != nil {
		account, fetchErr := service.FetchAccount(ctx, user)
		if fetchErr != nil || account == nil {
			return &RefundReceipt{AlreadyRefunded: true}, nil
		}
		return &RefundReceipt{TicketsLeft: account.Tickets, AlreadyRefunded: true}, nil
	}

	account, _, err := service.EnsureAccount(ctx, user)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrNoTicketAccount
	}
	if account.UserID == nil {
		if err := datastore.LinkTicketAccountUser(ctx, service.postgresDB, account.ID, user.ID); err != nil {
			log.Printf("link ticket account %d: %v", account.ID, err)
		}
	}

	result, err := datastore.RefundTickets(ctx, service.postgresDB, account.ID, refundID, amount, reason, metadata)
	if err != nil {
		return nil, mapLedgerError(err)
	}

	return &RefundReceipt{TicketsLeft: result.TicketsLeft, AlreadyRefunded: result.AlreadyRefunded}, nil
}

// AttachJobID back-fills the provider job id onto a charge recorded before
// dispatch, so the reconcile sweeper can re-poll the job later.
func (service *ServiceTickets) AttachJobID(ctx context.Context, usageID string, jobID string) error {
	if usageID == "" || jobID == "" {
		return nil
	}
	return datastore.SetChargeJobID(ctx, service.postgresDB, usageID, jobID)
}

// CostOfCharge reads back the amount of an existing charge so poll-time
// settlement refunds exactly what was debited.
func (service *ServiceTickets) CostOfCharge(ctx context.Context, usageID string) (int, bool) {
	event, err := datastore.GetTicketEventByUsageID(ctx, service.postgresDB, usageID)
	if err != nil || event == nil || event.Delta >= 0 {
		return 0, false
	}
	return -event.Delta, true
}

func (service *ServiceTickets) Balance(ctx context.Context, user *models.AuthUser) (*models.TicketAccount, error) {
	account, _, err := service.EnsureAccount(ctx, user)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrNoTicketAccount
	}
	return account, nil
}

func eventBelongsTo(event *models.TicketEvent, user *models.AuthUser) bool {
	if event.UserID != nil && *event.UserID != "" && *event.UserID == user.ID {
		return true
	}
	return event.Email != "" && strings.EqualFold(event.Email, user.Email)
}

func mapLedgerError(err error) error {
	message := err.Error()
	if strings.Contains(message, "INSUFFICIENT_TICKETS") {
		return ErrInsufficientTickets
	}
	if strings.Contains(message, "INVALID_TICKET_REQUEST") {
		return ErrInvalidTicketRequest
	}
	return err
}
