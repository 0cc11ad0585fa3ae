package datastore

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"animaforge/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

func testDB(t *testing.T) *bun.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() {
		//nolint:errcheck
		db.Close()
	})
	return db
}

// A key with no row must come back (nil, nil), not sql.ErrNoRows; the seeding
// loop in migrate relies on this to tell "unseeded" from "broken".
func TestGetConfigByKeyMissingRow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, CreateTableConfig(ctx, db))

	config, err := GetConfigByKey(ctx, db, "missing-"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestConfigSeedRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, CreateTableConfig(ctx, db))

	key := "seed-" + uuid.NewString()
	require.NoError(t, UpsertConfig(ctx, db, models.Config{Key: key, Value: "10"}))

	config, err := GetConfigByKey(ctx, db, key)
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, "10", config.Value)
}
