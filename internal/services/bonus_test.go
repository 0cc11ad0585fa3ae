package services

import (
	"testing"
	"time"

	"animaforge/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestBonusEligibility(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seeded := createdAt.Add(BONUS_WAIT)

	stateAt := func(next time.Time) *models.DailyBonusState {
		return &models.DailyBonusState{NextEligibleAt: next}
	}

	tests := []struct {
		name         string
		state        *models.DailyBonusState
		now          time.Time
		wantCanClaim bool
		wantNext     time.Time
	}{
		{
			name:         "fresh account is seeded one wait after signup",
			state:        nil,
			now:          createdAt.Add(time.Hour),
			wantCanClaim: false,
			wantNext:     seeded,
		},
		{
			name:         "fresh account just before the window",
			state:        nil,
			now:          seeded.Add(-time.Second),
			wantCanClaim: false,
			wantNext:     seeded,
		},
		{
			name:         "fresh account exactly at the window boundary",
			state:        nil,
			now:          seeded,
			wantCanClaim: true,
			wantNext:     seeded,
		},
		{
			name:         "fresh account past the window",
			state:        nil,
			now:          seeded.Add(48 * time.Hour),
			wantCanClaim: true,
			wantNext:     seeded,
		},
		{
			name:         "state row in the future blocks the claim",
			state:        stateAt(seeded.Add(72 * time.Hour)),
			now:          seeded.Add(48 * time.Hour),
			wantCanClaim: false,
			wantNext:     seeded.Add(72 * time.Hour),
		},
		{
			name:         "state row wins over the seeded window even when earlier",
			state:        stateAt(createdAt.Add(2 * time.Hour)),
			now:          createdAt.Add(3 * time.Hour),
			wantCanClaim: true,
			wantNext:     createdAt.Add(2 * time.Hour),
		},
		{
			name:         "elapsed state row allows the claim",
			state:        stateAt(seeded.Add(24 * time.Hour)),
			now:          seeded.Add(25 * time.Hour),
			wantCanClaim: true,
			wantNext:     seeded.Add(24 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canClaim, next := bonusEligibility(createdAt, tt.state, tt.now)
			assert.Equal(t, tt.wantCanClaim, canClaim)
			assert.Equal(t, tt.wantNext, next)
		})
	}
}

// A second claim inside the window must see a strictly later next_eligible_at
// than the first; the helper reports not-claimable for any now before it.
func TestBonusEligibilityMonotoneWindow(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	firstClaim := createdAt.Add(BONUS_WAIT)
	afterFirst := &models.DailyBonusState{NextEligibleAt: firstClaim.Add(BONUS_WAIT)}

	canClaim, next := bonusEligibility(createdAt, afterFirst, firstClaim.Add(time.Minute))
	assert.False(t, canClaim)
	assert.True(t, next.After(firstClaim))

	canClaim, _ = bonusEligibility(createdAt, afterFirst, next)
	assert.True(t, canClaim)
}
