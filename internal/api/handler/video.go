package handler

import (
	"errors"

	"animaforge/internal/models"
	"animaforge/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/labstack/echo/v4"
	"github.com/samber/do"
)

type groupVideo struct {
	container *do.Injector
}

// Submit dispatches a video job without charging. The ticket is consumed
// when the runner reports assets, keyed by the runner's job id, so a job
// that never completes never costs anything. Balance is still checked up
// front to reject users with no tickets at all.
func (gr *groupVideo) Submit(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := ResolveAcceptedUser(ctx, gr.container)
	if err != nil {
		return abort(c, nil, err)
	}

	var req models.VideoJobRequest
	if err := c.Bind(&req); err != nil {
		return abort(c, nil, errorx.Wrap(errors.New("invalid request body"), errorx.Validation))
	}

	params, err := services.ValidateVideoRequest(&req)
	if err != nil {
		return abort(c, nil, err)
	}
	cost := services.CostForSeconds(params.Seconds)

	tickets, err := do.Invoke[*services.ServiceTickets](gr.container)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}
	if _, err := tickets.EnsureAvailable(ctx, user, cost); err != nil {
		return abort(c, nil, err)
	}

	workflow, err := services.BuildVideoWorkflow(params)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	runner, err := do.Invoke[*services.ServiceRunner](gr.container)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	payload, err := runner.Submit(ctx, true, map[string]any{
		"workflow": workflow,
		"seconds":  params.Seconds,
		"mode":     params.Mode,
	})
	if err != nil {
		return abort(c, nil, err)
	}

	// Some runners resolve synchronously; settle right away when the submit
	// response already carries a terminal state.
	var settlement *services.Settlement
	jobID := services.ExtractJobID(payload)
	if jobID != "" && services.Classify(payload) != services.OutcomePending {
		engine, err := do.Invoke[*services.ServiceSettlement](gr.container)
		if err != nil {
			return abort(c, nil, errorx.Wrap(err, errorx.Service))
		}
		usageID := services.JobUsageID(services.USAGE_NAMESPACE_VIDEO, jobID)
		meta := map[string]any{
			"job_id":      jobID,
			"seconds":     params.Seconds,
			"mode":        params.Mode,
			"ticket_cost": cost,
			"source":      "run",
		}
		settlement, err = engine.Settle(ctx, user, usageID, payload, models.REASON_GENERATE_VIDEO, cost, meta)
		if err != nil {
			return abort(c, nil, err)
		}
	}

	return abort(c, enrichPayload(payload, "", settlement), nil)
}

// Status polls the runner and settles the usage id derived from the job id:
// charge on assets, refund on failure. Polling is the settlement trigger;
// every observation of the same terminal payload converges on one ledger
// action.
func (gr *groupVideo) Status(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := ResolveAcceptedUser(ctx, gr.container)
	if err != nil {
		return abort(c, nil, err)
	}

	id := c.QueryParam("id")
	if id == "" {
		return abort(c, nil, errorx.Wrap(errors.New("id is required"), errorx.Validation))
	}

	runner, err := do.Invoke[*services.ServiceRunner](gr.container)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	payload, err := runner.Status(ctx, true, id)
	if err != nil {
		return abort(c, nil, err)
	}

	engine, err := do.Invoke[*services.ServiceSettlement](gr.container)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	usageID := services.JobUsageID(services.USAGE_NAMESPACE_VIDEO, id)
	meta := map[string]any{"job_id": id, "source": "status"}
	settlement, err := engine.Settle(ctx, user, usageID, payload, models.REASON_GENERATE_VIDEO, 0, meta)
	if err != nil {
		return abort(c, nil, err)
	}

	return abort(c, enrichPayload(payload, usageID, settlement), nil)
}
