package services

import (
	"errors"
	"testing"

	"animaforge/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsageID(t *testing.T) {
	id := NewUsageID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewUsageID())
}

func TestJobUsageID(t *testing.T) {
	assert.Equal(t, "anima:abc", JobUsageID(USAGE_NAMESPACE_IMAGE, "abc"))
	assert.Equal(t, "video:j-1", JobUsageID(USAGE_NAMESPACE_VIDEO, "j-1"))
}

func TestRefundUsageID(t *testing.T) {
	assert.Equal(t, "video:j-1:refund", RefundUsageID("video:j-1"))
}

func TestEventBelongsTo(t *testing.T) {
	ownerID := "user-1"
	tests := []struct {
		name  string
		event models.TicketEvent
		user  models.AuthUser
		want  bool
	}{
		{
			"matching user id",
			models.TicketEvent{UserID: &ownerID, Email: "a@example.com"},
			models.AuthUser{ID: "user-1", Email: "other@example.com"},
			true,
		},
		{
			"matching email case insensitive",
			models.TicketEvent{Email: "A@Example.com"},
			models.AuthUser{ID: "user-2", Email: "a@example.com"},
			true,
		},
		{
			"neither matches",
			models.TicketEvent{UserID: &ownerID, Email: "a@example.com"},
			models.AuthUser{ID: "user-2", Email: "b@example.com"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventBelongsTo(&tt.event, &tt.user))
		})
	}
}

func TestMapLedgerError(t *testing.T) {
	assert.ErrorIs(t, mapLedgerError(errors.New(`ERROR: INSUFFICIENT_TICKETS (SQLSTATE=P0001)`)), ErrInsufficientTickets)
	assert.ErrorIs(t, mapLedgerError(errors.New(`ERROR: INVALID_TICKET_REQUEST (SQLSTATE=P0001)`)), ErrInvalidTicketRequest)

	plain := errors.New("connection refused")
	assert.Equal(t, plain, mapLedgerError(plain))
}
