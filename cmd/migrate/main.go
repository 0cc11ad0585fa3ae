package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strconv"

	"animaforge/internal/datastore"
	"animaforge/internal/models"
	"animaforge/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/env"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/urfave/cli/v2"
)

func init() {
	//nolint:errcheck
	godotenv.Load("../../.env")
	//nolint:errcheck
	godotenv.Load("./.env")
}

func main() {
	_, err := env.EnvsRequired("DB_DSN")
	if err != nil {
		log.Fatal(err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(os.Getenv("DB_DSN")),
		pgdriver.WithPassword(os.Getenv("DB_PASSWORD")),
	))
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	app := &cli.App{
		Name: "migrate",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "create tables, install ledger functions and seed config defaults",
				Action: func(c *cli.Context) error {
					return migrateUp(c.Context, bunDB)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func migrateUp(ctx context.Context, bunDB *bun.DB) error {
	steps := []func(context.Context, *bun.DB) error{
		datastore.CreateTableTicketAccount,
		datastore.CreateTableTicketEvent,
		datastore.CreateTableDailyBonusState,
		datastore.CreateTableConfig,
		datastore.CreateLedgerFunctions,
	}
	for _, step := range steps {
		if err := step(ctx, bunDB); err != nil {
			return err
		}
	}

	defaults := map[string]string{
		services.CONFIG_GENERATE_RATE_LIMIT_PER_MINUTE: strconv.Itoa(services.GENERATE_RATE_LIMIT_DEFAULT),
		services.CONFIG_RECONCILE_MIN_AGE_MINUTES:      strconv.Itoa(services.RECONCILE_MIN_AGE_DEFAULT),
		services.CONFIG_RECONCILE_BATCH_SIZE:           strconv.Itoa(services.RECONCILE_BATCH_SIZE_DEFAULT),
	}
	for key, value := range defaults {
		existing, err := datastore.GetConfigByKey(ctx, bunDB, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := datastore.UpsertConfig(ctx, bunDB, models.Config{Key: key, Value: value}); err != nil {
			return err
		}
		log.Printf("seeded config %s=%s", key, value)
	}

	log.Println("migration complete")
	return nil
}
