package services

import (
	"errors"
	"fmt"
	"time"
)

var ErrNoEmail = errors.New("email not available")
var ErrNoTicketAccount = errors.New("no ticket account")
var ErrInsufficientTickets = errors.New("no tickets remaining")
var ErrInvalidTicketRequest = errors.New("invalid ticket request")
var ErrWrongProvider = errors.New("only google sign-in is supported")
var ErrSettlementLock = errors.New("settlement locked")
var ErrUpstream = errors.New("upstream request failed")

const (
	CONFIG_GENERATE_RATE_LIMIT_PER_MINUTE = "GENERATE_RATE_LIMIT_PER_MINUTE"
	CONFIG_RECONCILE_MIN_AGE_MINUTES      = "RECONCILE_MIN_AGE_MINUTES"
	CONFIG_RECONCILE_BATCH_SIZE           = "RECONCILE_BATCH_SIZE"

	GENERATE_RATE_LIMIT_DEFAULT  = 10
	RECONCILE_MIN_AGE_DEFAULT    = 60
	RECONCILE_BATCH_SIZE_DEFAULT = 50

	CACHE_TTL_1_MIN  = 1 * time.Minute
	CACHE_TTL_5_MINS = 5 * time.Minute

	USAGE_NAMESPACE_IMAGE = "anima"
	USAGE_NAMESPACE_VIDEO = "video"

	ACCEPTED_PROVIDER = "google"

	BONUS_WAIT = 24 * time.Hour

	IMAGE_TICKET_COST = 1

	VIDEO_DEFAULT_SECONDS  = 5
	VIDEO_EXTENDED_SECONDS = 8

	VIDEO_BASE_TICKET_COST     = 1
	VIDEO_EXTENDED_TICKET_COST = 2
)

func LockKeySettlement(usageID string) string {
	return fmt.Sprintf("lock:settlement:%s", usageID)
}

func LockKeyBonusClaim(accountID int64) string {
	return fmt.Sprintf("lock:bonus-claim:%d", accountID)
}

func DBKeyConfig(key string) string {
	return fmt.Sprintf("config:%s", key)
}

func DBKeyAuthUser(tokenHash string) string {
	return fmt.Sprintf("auth:user:%s", tokenHash)
}

func LimitKeyGenerate(userID string) string {
	return fmt.Sprintf("limit:generate:%s", userID)
}
