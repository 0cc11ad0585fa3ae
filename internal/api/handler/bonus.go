package handler

import (
	"animaforge/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/labstack/echo/v4"
	"github.com/samber/do"
)

type groupBonus struct {
	container *do.Injector
}

func (gr *groupBonus) Status(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := ResolveAcceptedUser(ctx, gr.container)
	if err != nil {
		return abort(c, nil, err)
	}

	serviceBonus, err := do.Invoke[*services.ServiceBonus](gr.container)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	status, err := serviceBonus.Status(ctx, user)
	if err != nil {
		return abort(c, nil, err)
	}

	return abort(c, status, nil)
}

func (gr *groupBonus) Claim(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := ResolveAcceptedUser(ctx, gr.container)
	if err != nil {
		return abort(c, nil, err)
	}

	serviceBonus, err := do.Invoke[*services.ServiceBonus](gr.container)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	claim, err := serviceBonus.Claim(ctx, user)
	if err != nil {
		return abort(c, nil, err)
	}

	return abort(c, claim, nil)
}
