package services

import (
	"context"
	"log"
	"strings"
	"time"

	"animaforge/internal/datastore/redis_store"
	"animaforge/internal/models"

	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
)

// Outcome is the classification of a raw runner payload along the two axes
// the decision table cares about: failure beats success, everything else is
// still pending.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

const (
	ActionNone     = "none"
	ActionCharged  = "charged"
	ActionRefunded = "refunded"
)

// Provider payloads disagree on field names and nesting. Classification is
// an ordered walk over these path tables, first match wins; new provider
// shapes are added here, not as new branching.
var statusPaths = [][]string{
	{"status"},
	{"state"},
}

var errorPaths = [][]string{
	{"error"},
	{"output", "error"},
	{"result", "error"},
	{"output", "output", "error"},
	{"result", "output", "error"},
}

var assetRoots = [][]string{
	nil,
	{"output"},
	{"result"},
	{"output", "output"},
	{"result", "output"},
}

var assetListKeys = []string{"images", "videos", "gifs", "outputs", "output_images", "output_videos", "data"}

var assetStringKeys = []string{"image", "video", "gif", "output_image", "output_video", "output_image_base64"}

var secondsPaths = [][]string{
	{"input", "seconds"},
	{"seconds"},
	{"output", "input", "seconds"},
	{"output", "seconds"},
	{"result", "input", "seconds"},
	{"result", "seconds"},
	{"metadata", "seconds"},
	{"output", "metadata", "seconds"},
	{"result", "metadata", "seconds"},
}

var jobIDPaths = [][]string{
	{"id"},
	{"jobId"},
	{"job_id"},
	{"output", "id"},
}

var failureStatusWords = []string{"fail", "error", "cancel"}
var successStatusWords = []string{"complete", "success", "succeed", "finished"}

func lookup(payload map[string]any, path []string) (any, bool) {
	var current any = payload
	for _, key := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func payloadStatus(payload map[string]any) string {
	for _, path := range statusPaths {
		if value, ok := lookup(payload, path); ok {
			if status, ok := value.(string); ok && status != "" {
				return strings.ToLower(status)
			}
		}
	}
	return ""
}

func statusContainsAny(status string, words []string) bool {
	for _, word := range words {
		if strings.Contains(status, word) {
			return true
		}
	}
	return false
}

func hasErrorField(payload map[string]any) bool {
	for _, path := range errorPaths {
		value, ok := lookup(payload, path)
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return true
			}
		case bool:
			if v {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func nonEmptyList(value any) bool {
	list, ok := value.([]any)
	return ok && len(list) > 0
}

func nonEmptyString(value any) bool {
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) != ""
}

func hasAssets(payload map[string]any) bool {
	for _, root := range assetRoots {
		node := any(payload)
		if root != nil {
			value, ok := lookup(payload, root)
			if !ok {
				continue
			}
			node = value
		}
		branch, ok := node.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range assetListKeys {
			if nonEmptyList(branch[key]) {
				return true
			}
		}
		for _, key := range assetStringKeys {
			if nonEmptyString(branch[key]) {
				return true
			}
		}
	}
	return false
}

// Classify maps a raw runner payload onto the settlement decision table.
func Classify(payload map[string]any) Outcome {
	if payload == nil {
		return OutcomePending
	}
	status := payloadStatus(payload)
	if statusContainsAny(status, failureStatusWords) || hasErrorField(payload) {
		return OutcomeFailure
	}
	if statusContainsAny(status, successStatusWords) || hasAssets(payload) {
		return OutcomeSuccess
	}
	return OutcomePending
}

// ExtractJobID pulls the provider job id out of a submit response.
func ExtractJobID(payload map[string]any) string {
	for _, path := range jobIDPaths {
		if value, ok := lookup(payload, path); ok {
			if id, ok := value.(string); ok && id != "" {
				return id
			}
		}
	}
	return ""
}

// NormalizeSeconds collapses the requested duration onto the enumerated
// tiers; anything that is not the extended mode is the default.
func NormalizeSeconds(value any) int {
	seconds := 0
	switch v := value.(type) {
	case int:
		seconds = v
	case int64:
		seconds = int(v)
	case float64:
		seconds = int(v)
	case string:
		for _, r := range v {
			if r < '0' || r > '9' {
				return VIDEO_DEFAULT_SECONDS
			}
		}
		if v == "8" {
			return VIDEO_EXTENDED_SECONDS
		}
		return VIDEO_DEFAULT_SECONDS
	default:
		return VIDEO_DEFAULT_SECONDS
	}
	if seconds == VIDEO_EXTENDED_SECONDS {
		return VIDEO_EXTENDED_SECONDS
	}
	return VIDEO_DEFAULT_SECONDS
}

// ExtractSeconds recovers the requested duration from whichever nesting the
// provider echoed it back at.
func ExtractSeconds(payload map[string]any) int {
	for _, path := range secondsPaths {
		if value, ok := lookup(payload, path); ok && value != nil {
			return NormalizeSeconds(value)
		}
	}
	return VIDEO_DEFAULT_SECONDS
}

// CostForSeconds is the duration→ticket tier table.
func CostForSeconds(seconds int) int {
	if seconds == VIDEO_EXTENDED_SECONDS {
		return VIDEO_EXTENDED_TICKET_COST
	}
	return VIDEO_BASE_TICKET_COST
}

// Ledger is the slice of the ticket service the settlement engine needs.
type Ledger interface {
	Charge(ctx context.Context, user *models.AuthUser, usageID string, cost int, reason string, metadata map[string]any) (*ChargeReceipt, error)
	Refund(ctx context.Context, user *models.AuthUser, usageID string, amount int, reason string, metadata map[string]any) (*RefundReceipt, error)
	CostOfCharge(ctx context.Context, usageID string) (int, bool)
}

// Settlement is the ledger action applied (or intentionally not applied)
// for one payload observation.
type Settlement struct {
	Action      string `json:"action"`
	TicketsLeft int    `json:"tickets_left"`
	HasTickets  bool   `json:"-"`
}

type ServiceSettlement struct {
	container *do.Injector
	ledger    Ledger
	rs        *redsync.Redsync
	redisDB   redis.UniversalClient
}

func NewServiceSettlement(container *do.Injector) (*ServiceSettlement, error) {
	tickets, err := do.Invoke[*ServiceTickets](container)
	if err != nil {
		return nil, err
	}

	rs, err := do.Invoke[*redsync.Redsync](container)
	if err != nil {
		return nil, err
	}

	redisDB, err := do.InvokeNamed[redis.UniversalClient](container, "redis-mutex")
	if err != nil {
		return nil, err
	}

	return &ServiceSettlement{container, tickets, rs, redisDB}, nil
}

// NewSettlementWithLedger wires the engine to an arbitrary ledger. Redsync
// and redis are optional; without them settlement relies solely on the
// ledger's idempotency, which is the actual correctness guarantee.
func NewSettlementWithLedger(ledger Ledger, rs *redsync.Redsync, redisDB redis.UniversalClient) *ServiceSettlement {
	return &ServiceSettlement{nil, ledger, rs, redisDB}
}

// Settle classifies one payload and applies the matching ledger action
// exactly once per usage id. knownCost of 0 means the cost is reconstructed
// from the prior charge event or from the payload's duration.
func (service *ServiceSettlement) Settle(ctx context.Context, user *models.AuthUser, usageID string, payload map[string]any, reason string, knownCost int, metadata map[string]any) (*Settlement, error) {
	if payload == nil || usageID == "" {
		return &Settlement{Action: ActionNone}, nil
	}

	outcome := Classify(payload)
	if outcome == OutcomePending {
		return &Settlement{Action: ActionNone}, nil
	}

	if service.redisDB != nil {
		mark, err := redis_store.GetSettledMark(ctx, service.redisDB, usageID)
		if err == nil && mark != nil && matchesOutcome(mark.Action, outcome) {
			return &Settlement{Action: mark.Action, TicketsLeft: mark.TicketsLeft, HasTickets: true}, nil
		}
	}

	if service.rs != nil {
		mutex := service.rs.NewMutex(LockKeySettlement(usageID), redsync.WithExpiry(10*time.Second), redsync.WithTries(1))
		if err := mutex.Lock(); err != nil {
			// Another poll is settling this usage id right now; the ledger
			// would no-op anyway, so report no action.
			return &Settlement{Action: ActionNone}, nil
		}
		//nolint:errcheck
		defer mutex.Unlock()
	}

	cost := knownCost
	if cost < 1 {
		cost = service.resolveCost(ctx, usageID, payload)
	}

	switch outcome {
	case OutcomeFailure:
		receipt, err := service.ledger.Refund(ctx, user, usageID, cost, models.REASON_REFUND, metadata)
		if err != nil {
			return nil, err
		}
		if receipt.Skipped {
			return &Settlement{Action: ActionNone}, nil
		}
		settlement := &Settlement{Action: ActionRefunded, TicketsLeft: receipt.TicketsLeft, HasTickets: true}
		service.mark(ctx, usageID, settlement)
		return settlement, nil
	default:
		receipt, err := service.ledger.Charge(ctx, user, usageID, cost, reason, metadata)
		if err != nil {
			return nil, err
		}
		settlement := &Settlement{Action: ActionCharged, TicketsLeft: receipt.TicketsLeft, HasTickets: true}
		service.mark(ctx, usageID, settlement)
		return settlement, nil
	}
}

func (service *ServiceSettlement) resolveCost(ctx context.Context, usageID string, payload map[string]any) int {
	if cost, ok := service.ledger.CostOfCharge(ctx, usageID); ok {
		return cost
	}
	return CostForSeconds(ExtractSeconds(payload))
}

func (service *ServiceSettlement) mark(ctx context.Context, usageID string, settlement *Settlement) {
	if service.redisDB == nil {
		return
	}
	err := redis_store.SetSettledMark(ctx, service.redisDB, &models.SettledMark{
		UsageID:     usageID,
		Action:      settlement.Action,
		TicketsLeft: settlement.TicketsLeft,
		SettledAt:   time.Now().Unix(),
	})
	if err != nil {
		log.Printf("settled mark %s: %v", usageID, err)
	}
}

func matchesOutcome(action string, outcome Outcome) bool {
	switch outcome {
	case OutcomeFailure:
		return action == ActionRefunded
	case OutcomeSuccess:
		return action == ActionCharged
	}
	return false
}
