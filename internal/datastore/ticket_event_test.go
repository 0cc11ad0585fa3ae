package datastore

import (
	"context"
	"testing"
	"time"

	"animaforge/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sweepCharge(reason string, meta map[string]any) *models.TicketEvent {
	return &models.TicketEvent{
		UsageID:  "anima:" + uuid.NewString(),
		Email:    "sweep@example.com",
		Delta:    -1,
		Reason:   reason,
		Metadata: meta,
	}
}

func TestListUnsettledChargesFilters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, CreateTableTicketEvent(ctx, db))

	orphan := sweepCharge(models.REASON_GENERATE, map[string]any{"job_id": "job-orphan", "source": "run"})
	noJobID := sweepCharge(models.REASON_GENERATE, map[string]any{"source": "run"})
	refunded := sweepCharge(models.REASON_GENERATE, map[string]any{"job_id": "job-refunded"})
	succeeded := sweepCharge(models.REASON_GENERATE, map[string]any{"job_id": "job-done", "outcome": "success"})
	videoSuccess := sweepCharge(models.REASON_GENERATE_VIDEO, map[string]any{"job_id": "job-video"})

	for _, event := range []*models.TicketEvent{orphan, noJobID, refunded, succeeded, videoSuccess} {
		require.NoError(t, InsertTicketEvent(ctx, db, event))
	}
	require.NoError(t, InsertTicketEvent(ctx, db, &models.TicketEvent{
		UsageID:  refunded.UsageID + ":refund",
		Email:    refunded.Email,
		Delta:    1,
		Reason:   models.REASON_REFUND,
		Metadata: map[string]any{"job_id": "job-refunded"},
	}))

	events, err := ListUnsettledCharges(ctx, db, time.Now().Add(time.Hour), 1000)
	require.NoError(t, err)

	listed := map[string]bool{}
	for _, event := range events {
		listed[event.UsageID] = true
	}

	assert.True(t, listed[orphan.UsageID], "dispatched charge with no resolution must be swept")
	assert.False(t, listed[noJobID.UsageID], "charge without a job id cannot be re-polled")
	assert.False(t, listed[refunded.UsageID], "refund sibling resolves the charge")
	assert.False(t, listed[succeeded.UsageID], "recorded outcome resolves the charge")
	assert.False(t, listed[videoSuccess.UsageID], "video charges are terminal by construction")
}

// An image charge is written before dispatch and enters the sweep window only
// once the job id is attached; recording the outcome takes it back out.
func TestChargeJobIDAndOutcomeLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, CreateTableTicketEvent(ctx, db))

	charge := sweepCharge(models.REASON_GENERATE, map[string]any{"source": "run"})
	require.NoError(t, InsertTicketEvent(ctx, db, charge))

	listed := func() bool {
		events, err := ListUnsettledCharges(ctx, db, time.Now().Add(time.Hour), 1000)
		require.NoError(t, err)
		for _, event := range events {
			if event.UsageID == charge.UsageID {
				return true
			}
		}
		return false
	}

	assert.False(t, listed())

	require.NoError(t, SetChargeJobID(ctx, db, charge.UsageID, "job-lifecycle"))
	assert.True(t, listed())

	event, err := GetTicketEventByUsageID(ctx, db, charge.UsageID)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "job-lifecycle", event.Metadata["job_id"])

	require.NoError(t, MarkChargeOutcome(ctx, db, charge.UsageID, "success"))
	assert.False(t, listed())
}
