package handler

import (
	"animaforge/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/labstack/echo/v4"
	"github.com/samber/do"
)

type groupBalance struct {
	container *do.Injector
}

// Show returns the current balance, creating the account (with its signup
// grant) on first touch.
func (gr *groupBalance) Show(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := ResolveAcceptedUser(ctx, gr.container)
	if err != nil {
		return abort(c, nil, err)
	}

	tickets, err := do.Invoke[*services.ServiceTickets](gr.container)
	if err != nil {
		return abort(c, nil, errorx.Wrap(err, errorx.Service))
	}

	account, err := tickets.Balance(ctx, user)
	if err != nil {
		return abort(c, nil, err)
	}

	return abort(c, echo.Map{"tickets": account.Tickets, "email": account.Email}, nil)
}
