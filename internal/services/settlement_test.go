package services

import (
	"context"
	"testing"

	"animaforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    Outcome
	}{
		{"nil payload", nil, OutcomePending},
		{"empty payload", map[string]any{}, OutcomePending},
		{"queued", map[string]any{"status": "IN_QUEUE"}, OutcomePending},
		{"in progress", map[string]any{"status": "IN_PROGRESS"}, OutcomePending},
		{"failed status", map[string]any{"status": "FAILED"}, OutcomeFailure},
		{"cancelled status", map[string]any{"status": "CANCELLED"}, OutcomeFailure},
		{"error via state", map[string]any{"state": "error"}, OutcomeFailure},
		{"top level error", map[string]any{"error": "boom"}, OutcomeFailure},
		{
			"nested output error",
			map[string]any{"output": map[string]any{"error": "cuda out of memory"}},
			OutcomeFailure,
		},
		{
			"double nested error",
			map[string]any{"output": map[string]any{"output": map[string]any{"error": "x"}}},
			OutcomeFailure,
		},
		{
			"nested error beats success status",
			map[string]any{"status": "COMPLETED", "output": map[string]any{"output": map[string]any{"error": "x"}}},
			OutcomeFailure,
		},
		{
			"failure beats assets",
			map[string]any{"status": "FAILED", "output": map[string]any{"images": []any{"a.png"}}},
			OutcomeFailure,
		},
		{"completed status", map[string]any{"status": "COMPLETED"}, OutcomeSuccess},
		{"succeeded status", map[string]any{"status": "succeeded"}, OutcomeSuccess},
		{
			"assets without status",
			map[string]any{"output": map[string]any{"images": []any{"a.png"}}},
			OutcomeSuccess,
		},
		{
			"deeply nested assets",
			map[string]any{"result": map[string]any{"output": map[string]any{"videos": []any{"v.mp4"}}}},
			OutcomeSuccess,
		},
		{
			"string asset",
			map[string]any{"output": map[string]any{"output_image_base64": "abc"}},
			OutcomeSuccess,
		},
		{
			"empty asset list is not success",
			map[string]any{"output": map[string]any{"images": []any{}}},
			OutcomePending,
		},
		{
			"blank asset string is not success",
			map[string]any{"output": map[string]any{"image": "   "}},
			OutcomePending,
		},
		{"empty error string ignored", map[string]any{"error": "", "status": "COMPLETED"}, OutcomeSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.payload))
		})
	}
}

func TestExtractJobID(t *testing.T) {
	assert.Equal(t, "abc", ExtractJobID(map[string]any{"id": "abc"}))
	assert.Equal(t, "abc", ExtractJobID(map[string]any{"jobId": "abc"}))
	assert.Equal(t, "abc", ExtractJobID(map[string]any{"job_id": "abc"}))
	assert.Equal(t, "abc", ExtractJobID(map[string]any{"output": map[string]any{"id": "abc"}}))
	assert.Equal(t, "", ExtractJobID(map[string]any{"id": 42}))
	assert.Equal(t, "", ExtractJobID(map[string]any{}))
}

func TestExtractSeconds(t *testing.T) {
	assert.Equal(t, 8, ExtractSeconds(map[string]any{"input": map[string]any{"seconds": float64(8)}}))
	assert.Equal(t, 8, ExtractSeconds(map[string]any{"output": map[string]any{"metadata": map[string]any{"seconds": "8"}}}))
	assert.Equal(t, 5, ExtractSeconds(map[string]any{"seconds": float64(5)}))
	// anything off the tiers collapses to the default
	assert.Equal(t, 5, ExtractSeconds(map[string]any{"seconds": float64(12)}))
	assert.Equal(t, 5, ExtractSeconds(map[string]any{}))
}

func TestCostForSeconds(t *testing.T) {
	assert.Equal(t, 2, CostForSeconds(8))
	assert.Equal(t, 1, CostForSeconds(5))
	assert.Equal(t, 1, CostForSeconds(0))
}

type fakeLedger struct {
	balance int
	charges map[string]int
	refunds map[string]int
}

func newFakeLedger(balance int) *fakeLedger {
	return &fakeLedger{balance: balance, charges: map[string]int{}, refunds: map[string]int{}}
}

func (f *fakeLedger) Charge(_ context.Context, _ *models.AuthUser, usageID string, cost int, _ string, _ map[string]any) (*ChargeReceipt, error) {
	if _, ok := f.charges[usageID]; ok {
		return &ChargeReceipt{TicketsLeft: f.balance, AlreadyConsumed: true}, nil
	}
	if f.balance < cost {
		return nil, ErrInsufficientTickets
	}
	f.balance -= cost
	f.charges[usageID] = cost
	return &ChargeReceipt{TicketsLeft: f.balance}, nil
}

func (f *fakeLedger) Refund(_ context.Context, _ *models.AuthUser, usageID string, amount int, _ string, _ map[string]any) (*RefundReceipt, error) {
	if _, ok := f.refunds[usageID]; ok {
		return &RefundReceipt{TicketsLeft: f.balance, AlreadyRefunded: true}, nil
	}
	if _, ok := f.charges[usageID]; !ok {
		return &RefundReceipt{Skipped: true}, nil
	}
	f.balance += amount
	f.refunds[usageID] = amount
	return &RefundReceipt{TicketsLeft: f.balance}, nil
}

func (f *fakeLedger) CostOfCharge(_ context.Context, usageID string) (int, bool) {
	cost, ok := f.charges[usageID]
	return cost, ok
}

func TestSettlePendingIsNoAction(t *testing.T) {
	ledger := newFakeLedger(5)
	engine := NewSettlementWithLedger(ledger, nil, nil)

	settlement, err := engine.Settle(context.Background(), nil, "video:j1", map[string]any{"status": "IN_QUEUE"}, models.REASON_GENERATE_VIDEO, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, settlement.Action)
	assert.Equal(t, 5, ledger.balance)
}

func TestSettleChargeOnSuccessIsIdempotent(t *testing.T) {
	ledger := newFakeLedger(5)
	engine := NewSettlementWithLedger(ledger, nil, nil)
	payload := map[string]any{
		"status": "COMPLETED",
		"input":  map[string]any{"seconds": float64(8)},
		"output": map[string]any{"videos": []any{"v.mp4"}},
	}

	first, err := engine.Settle(context.Background(), nil, "video:j1", payload, models.REASON_GENERATE_VIDEO, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCharged, first.Action)
	assert.Equal(t, 3, first.TicketsLeft)

	// polling the same terminal payload again must not debit twice
	second, err := engine.Settle(context.Background(), nil, "video:j1", payload, models.REASON_GENERATE_VIDEO, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCharged, second.Action)
	assert.Equal(t, 3, second.TicketsLeft)
	assert.Equal(t, 3, ledger.balance)
}

func TestSettleRefundOnFailureIsIdempotent(t *testing.T) {
	ledger := newFakeLedger(5)
	engine := NewSettlementWithLedger(ledger, nil, nil)

	_, err := ledger.Charge(context.Background(), nil, "anima:u1", 1, models.REASON_GENERATE, nil)
	require.NoError(t, err)
	require.Equal(t, 4, ledger.balance)

	failure := map[string]any{"status": "FAILED"}
	first, err := engine.Settle(context.Background(), nil, "anima:u1", failure, models.REASON_GENERATE, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionRefunded, first.Action)
	assert.Equal(t, 5, first.TicketsLeft)

	second, err := engine.Settle(context.Background(), nil, "anima:u1", failure, models.REASON_GENERATE, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionRefunded, second.Action)
	assert.Equal(t, 5, ledger.balance)
}

func TestSettleRefundWithoutChargeIsSkipped(t *testing.T) {
	ledger := newFakeLedger(5)
	engine := NewSettlementWithLedger(ledger, nil, nil)

	settlement, err := engine.Settle(context.Background(), nil, "video:never-charged", map[string]any{"status": "FAILED"}, models.REASON_GENERATE_VIDEO, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, settlement.Action)
	assert.Equal(t, 5, ledger.balance)
}

func TestSettleRefundUsesOriginalChargeAmount(t *testing.T) {
	ledger := newFakeLedger(5)
	engine := NewSettlementWithLedger(ledger, nil, nil)

	// extended-mode charge of 2 tickets
	success := map[string]any{"status": "COMPLETED", "input": map[string]any{"seconds": float64(8)}}
	_, err := engine.Settle(context.Background(), nil, "video:j2", success, models.REASON_GENERATE_VIDEO, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 3, ledger.balance)

	// later failure observation (runner flip-flop); payload no longer
	// carries the duration but the refund still matches the debit
	failure := map[string]any{"status": "FAILED"}
	settlement, err := engine.Settle(context.Background(), nil, "video:j2", failure, models.REASON_GENERATE_VIDEO, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionRefunded, settlement.Action)
	assert.Equal(t, 5, ledger.balance)
}

func TestSettleInsufficientTickets(t *testing.T) {
	ledger := newFakeLedger(1)
	engine := NewSettlementWithLedger(ledger, nil, nil)

	success := map[string]any{"status": "COMPLETED", "input": map[string]any{"seconds": float64(8)}}
	_, err := engine.Settle(context.Background(), nil, "video:j3", success, models.REASON_GENERATE_VIDEO, 0, nil)
	assert.ErrorIs(t, err, ErrInsufficientTickets)
	assert.Equal(t, 1, ledger.balance)
}
