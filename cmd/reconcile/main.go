package main

import (
	"database/sql"
	"log"
	"os"

	"animaforge/internal/services"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/hiendaovinh/toolkit/pkg/db"
	"github.com/hiendaovinh/toolkit/pkg/env"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/samber/do"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/urfave/cli/v2"
)

func init() {
	// for development
	//nolint:errcheck
	godotenv.Load("../../.env")

	// for production
	//nolint:errcheck
	godotenv.Load("./.env")
}

func main() {
	vs, err := env.EnvsRequired(
		"DB_DSN",
		"RUNNER_API_KEY",
		"RUNNER_ENDPOINT_URL",
	)
	if err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name: "reconcile",
		Commands: []*cli.Command{
			commandCronjob(vs),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func commandCronjob(vs map[string]string) *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "periodically settle charges whose jobs were never polled to completion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "schedule",
				Value: "@every 5m",
				Usage: "cron schedule for the sweep",
			},
		},
		Action: func(c *cli.Context) error {
			bunDB, err := getDb()
			if err != nil {
				return err
			}
			redisDB, err := getRedis()
			if err != nil {
				return err
			}

			videoEndpoint := os.Getenv("RUNNER_VIDEO_ENDPOINT_URL")
			if videoEndpoint == "" {
				videoEndpoint = vs["RUNNER_ENDPOINT_URL"]
			}
			runner, err := services.NewServiceRunner(vs["RUNNER_ENDPOINT_URL"], videoEndpoint, vs["RUNNER_API_KEY"])
			if err != nil {
				return err
			}

			container := do.New()
			do.ProvideValue(container, bunDB)
			tickets, err := services.NewServiceTickets(container)
			if err != nil {
				return err
			}

			var rs *redsync.Redsync
			if redisDB != nil {
				rs = redsync.New(goredis.NewPool(redisDB))
			}
			engine := services.NewSettlementWithLedger(tickets, rs, redisDB)

			cronRunner := cron.New()
			job := NewReconcileJob(bunDB, runner, engine)
			if err := job.Start(cronRunner, c.String("schedule")); err != nil {
				return err
			}
			log.Println("Start reconcile cronjob")
			cronRunner.Run()
			return nil
		},
	}
}

func getDb() (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(os.Getenv("DB_DSN")),
		pgdriver.WithPassword(os.Getenv("DB_PASSWORD")),
	))

	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func getRedis() (redis.UniversalClient, error) {
	clusterRedisURL := os.Getenv("CLUSTER_REDIS_MUTEX")
	if clusterRedisURL != "" {
		clusterOpts, err := redis.ParseClusterURL(clusterRedisURL)
		if err != nil {
			return nil, err
		}
		return redis.NewClusterClient(clusterOpts), nil
	}
	if os.Getenv("REDIS_MUTEX") == "" {
		return nil, nil
	}
	return db.InitRedis(&db.RedisConfig{
		URL: os.Getenv("REDIS_MUTEX"),
	})
}
