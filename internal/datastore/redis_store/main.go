package redis_store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"animaforge/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Settled markers are a read-side shortcut for repeated status polls on the
// same usage id. They expire; the ticket_event unique index stays the source
// of truth for idempotency.
const SETTLED_MARK_TTL = 6 * time.Hour

func dbKeySettled(usageID string) string {
	return fmt.Sprintf("settlement:settled:%s", usageID)
}

func GetSettledMark(ctx context.Context, client redis.UniversalClient, usageID string) (*models.SettledMark, error) {
	raw, err := client.Get(ctx, dbKeySettled(usageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var mark models.SettledMark
	if err := msgpack.Unmarshal(raw, &mark); err != nil {
		return nil, err
	}
	return &mark, nil
}

func SetSettledMark(ctx context.Context, client redis.UniversalClient, mark *models.SettledMark) error {
	raw, err := msgpack.Marshal(mark)
	if err != nil {
		return err
	}
	return client.Set(ctx, dbKeySettled(mark.UsageID), raw, SETTLED_MARK_TTL).Err()
}
