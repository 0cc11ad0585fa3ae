package handler

import (
	"errors"
	"log"

	"animaforge/internal/interfaces"
	"animaforge/internal/models"
	"animaforge/internal/services"

	"github.com/go-redis/redis_rate/v10"
	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/labstack/echo/v4"
	"github.com/samber/do"
)

type groupGenerate struct {
	container *do.Injector
}

// Submit charges one ticket up front, then dispatches the image job. Any
// failure after the charge walks back through the refund path with the same
// usage id, so the user never pays for a job that was not accepted.
func (gr *groupGenerate) Submit(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := ResolveAcceptedUser(ctx, gr.container)
	if err != nil {
		return abort(c, nil, err)
	}

	if err := gr.allowRate(c, user); err != nil {
		return abort(c, nil, err)
	}

	var req models.ImageJobRequest
	if err := c.Bind(&req); err != nil {
		return abort(c, nil, errorx.Wrap(errors.New("invalid request body"), errorx.Validation))
	}

	params, err := services.ValidateImageRequest(&req)
	if err != nil {
		return abort(c, nil, err)
	}

	tickets, err := do.Invoke[*services.ServiceTickets](gr.container)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	usageID := services.JobUsageID(services.USAGE_NAMESPACE_IMAGE, services.NewUsageID())
	meta := map[string]any{
		"usage_id":      usageID,
		"width":         params.Width,
		"height":        params.Height,
		"steps":         params.Steps,
		"cfg":           params.CFG,
		"prompt_length": len([]rune(params.Prompt)),
		"source":        "run",
	}

	receipt, err := tickets.Charge(ctx, user, usageID, services.IMAGE_TICKET_COST, models.REASON_GENERATE, meta)
	if err != nil {
		return abort(c, nil, err)
	}

	workflow, err := services.BuildImageWorkflow(params)
	if err != nil {
		gr.refund(c, user, usageID, meta, "workflow_apply_failed")
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	runner, err := do.Invoke[*services.ServiceRunner](gr.container)
	if err != nil {
		gr.refund(c, user, usageID, meta, "runner_unavailable")
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	payload, err := runner.Submit(ctx, false, map[string]any{"workflow": workflow})
	if err != nil {
		gr.refund(c, user, usageID, meta, "dispatch_failed")
		return abort(c, nil, err)
	}

	// The charge predates the dispatch; record the job id on it so the
	// reconcile sweeper can find its way back to the job.
	if jobID := services.ExtractJobID(payload); jobID != "" {
		if err := tickets.AttachJobID(ctx, usageID, jobID); err != nil {
			log.Printf("attach job id %s: %v", usageID, err)
		}
	}

	settlement := &services.Settlement{Action: services.ActionCharged, TicketsLeft: receipt.TicketsLeft, HasTickets: true}
	if services.Classify(payload) == services.OutcomeFailure {
		engine, err := do.Invoke[*services.ServiceSettlement](gr.container)
		if err != nil {
			return abort(c, nil, errorx.Wrap(err, errorx.Service))
		}
		settlement, err = engine.Settle(ctx, user, usageID, payload, models.REASON_GENERATE, services.IMAGE_TICKET_COST, meta)
		if err != nil {
			return abort(c, nil, err)
		}
	}

	return abort(c, enrichPayload(payload, usageID, settlement), nil)
}

// Status proxies the runner's job state and refunds the up-front charge when
// the job has clearly failed. Success needs no ledger action here; repeated
// polls of a failed job converge on a single refund.
func (gr *groupGenerate) Status(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := ResolveAcceptedUser(ctx, gr.container)
	if err != nil {
		return abort(c, nil, err)
	}

	id := c.QueryParam("id")
	if id == "" {
		return abort(c, nil, errorx.Wrap(errors.New("id is required"), errorx.Validation))
	}
	usageID := c.QueryParam("usage_id")
	if usageID == "" {
		usageID = c.QueryParam("usageId")
	}
	if usageID == "" {
		return abort(c, nil, errorx.Wrap(errors.New("usage_id is required"), errorx.Validation))
	}

	runner, err := do.Invoke[*services.ServiceRunner](gr.container)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	payload, err := runner.Status(ctx, false, id)
	if err != nil {
		return abort(c, nil, err)
	}

	var settlement *services.Settlement
	if services.Classify(payload) == services.OutcomeFailure {
		engine, err := do.Invoke[*services.ServiceSettlement](gr.container)
		if err != nil {
			return abort(c, nil, errorx.Wrap(err, errorx.Service))
		}
		meta := map[string]any{"job_id": id, "source": "status"}
		settlement, err = engine.Settle(ctx, user, usageID, payload, models.REASON_GENERATE, services.IMAGE_TICKET_COST, meta)
		if err != nil {
			return abort(c, nil, err)
		}
	}

	return abort(c, enrichPayload(payload, usageID, settlement), nil)
}

func (gr *groupGenerate) allowRate(c echo.Context, user *models.AuthUser) error {
	limiter, err := do.Invoke[interfaces.Limiter](gr.container)
	if err != nil {
		return errorx.Wrap(err, errorx.Service)
	}

	serviceConfig, err := do.Invoke[*services.ServiceConfig](gr.container)
	if err != nil {
		return errorx.Wrap(err, errorx.Service)
	}

	ctx := c.Request().Context()
	rate, _ := serviceConfig.GetIntConfig(ctx, services.CONFIG_GENERATE_RATE_LIMIT_PER_MINUTE, services.GENERATE_RATE_LIMIT_DEFAULT)
	return limiter.Allow(ctx, services.LimitKeyGenerate(user.ID), redis_rate.PerMinute(rate))
}

func (gr *groupGenerate) refund(c echo.Context, user *models.AuthUser, usageID string, meta map[string]any, reason string) {
	ctx := c.Request().Context()

	tickets, err := do.Invoke[*services.ServiceTickets](gr.container)
	if err != nil {
		log.Printf("refund %s: %v", usageID, err)
		return
	}

	refundMeta := map[string]any{"reason": reason}
	for k, v := range meta {
		refundMeta[k] = v
	}
	if _, err := tickets.Refund(ctx, user, usageID, services.IMAGE_TICKET_COST, models.REASON_REFUND, refundMeta); err != nil {
		log.Printf("refund %s: %v", usageID, err)
	}
}
