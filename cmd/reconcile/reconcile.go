package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"animaforge/internal/datastore"
	"animaforge/internal/models"
	"animaforge/internal/services"

	"github.com/robfig/cron/v3"
	"github.com/uptrace/bun"
)

type ReconcileJob struct {
	Db     *bun.DB
	Runner *services.ServiceRunner
	Engine *services.ServiceSettlement
}

func NewReconcileJob(db *bun.DB, runner *services.ServiceRunner, engine *services.ServiceSettlement) *ReconcileJob {
	return &ReconcileJob{
		Db:     db,
		Runner: runner,
		Engine: engine,
	}
}

func (j *ReconcileJob) Start(cronRunner *cron.Cron, schedule string) error {
	_, err := cronRunner.AddFunc(schedule, j.runScheduledTask)
	log.Println("Reconcile cronjob start at:", time.Now().Format("2006-01-02 15:04:05"), "cron:", schedule)
	return err
}

func (j *ReconcileJob) runScheduledTask() {
	ctx := context.Background()

	minAge := services.RECONCILE_MIN_AGE_DEFAULT
	batchSize := services.RECONCILE_BATCH_SIZE_DEFAULT
	if config, err := datastore.GetConfigByKey(ctx, j.Db, services.CONFIG_RECONCILE_MIN_AGE_MINUTES); err == nil && config != nil {
		if v, err := parsePositiveInt(config.Value); err == nil {
			minAge = v
		}
	}
	if config, err := datastore.GetConfigByKey(ctx, j.Db, services.CONFIG_RECONCILE_BATCH_SIZE); err == nil && config != nil {
		if v, err := parsePositiveInt(config.Value); err == nil {
			batchSize = v
		}
	}

	cutoff := time.Now().Add(-time.Duration(minAge) * time.Minute)
	charges, err := datastore.ListUnsettledCharges(ctx, j.Db, cutoff, batchSize)
	if err != nil {
		log.Println("reconcile list:", err)
		return
	}
	if len(charges) == 0 {
		return
	}
	log.Printf("reconcile: %d stale charges", len(charges))

	for _, charge := range charges {
		j.settle(ctx, charge)
	}
}

// settle re-polls one stale charge and pushes it through the normal
// settlement path. The charge event itself names the owner, so the refund's
// ownership check passes for exactly that user.
func (j *ReconcileJob) settle(ctx context.Context, charge *models.TicketEvent) {
	jobID, _ := charge.Metadata["job_id"].(string)
	if jobID == "" {
		return
	}

	video := charge.Reason == models.REASON_GENERATE_VIDEO

	payload, err := j.Runner.Status(ctx, video, jobID)
	if err != nil {
		log.Printf("reconcile status %s: %v", jobID, err)
		return
	}
	if payload == nil {
		return
	}

	owner := &models.AuthUser{Email: charge.Email}
	if charge.UserID != nil {
		owner.ID = *charge.UserID
	}

	meta := map[string]any{"job_id": jobID, "source": "reconcile"}
	settlement, err := j.Engine.Settle(ctx, owner, charge.UsageID, payload, charge.Reason, -charge.Delta, meta)
	if err != nil {
		log.Printf("reconcile settle %s: %v", charge.UsageID, err)
		return
	}
	if settlement.Action != services.ActionNone {
		log.Printf("reconcile %s: %s (tickets_left=%d)", charge.UsageID, settlement.Action, settlement.TicketsLeft)
	}

	// A refund excludes the charge from the next sweep through its ":refund"
	// sibling row; a success leaves no sibling and has to be marked, or the
	// same completed jobs would fill every batch.
	if settlement.Action == services.ActionCharged {
		if err := datastore.MarkChargeOutcome(ctx, j.Db, charge.UsageID, "success"); err != nil {
			log.Printf("reconcile mark %s: %v", charge.UsageID, err)
		}
	}
}

func parsePositiveInt(value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 0, strconv.ErrRange
	}
	return v, nil
}
