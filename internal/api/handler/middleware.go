package handler

import (
	"context"
	"errors"
	"strings"

	"animaforge/internal/models"
	"animaforge/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/errorx"
	"github.com/hiendaovinh/toolkit/pkg/httpx-echo"
	"github.com/labstack/echo/v4"
	"github.com/samber/do"
)

type ctxKey string

var ctxKeyAuthUser ctxKey = "AUTH_USER"

func Authn(verifier interface {
	Verify(ctx context.Context, token string) (*models.AuthUser, error)
},
) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return next(c)
			}

			parts := strings.Split(header, "Bearer")
			if len(parts) != 2 {
				return next(c)
			}

			token := strings.TrimSpace(parts[1])
			if len(token) == 0 {
				return next(c)
			}

			user, err := verifier.Verify(c.Request().Context(), token)
			if err != nil {
				// although it's a client error, we don't want to leak details
				//nolint:errcheck
				httpx.Abort(c, errorx.Wrap(errors.New("invalid access token"), errorx.Authn), -1)
				return nil
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, ctxKeyAuthUser, user)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// ResolveAcceptedUser returns the authenticated user, rejecting sessions
// from identity providers other than the accepted one.
func ResolveAcceptedUser(ctx context.Context, container *do.Injector) (*models.AuthUser, error) {
	user, ok := ctx.Value(ctxKeyAuthUser).(*models.AuthUser)
	if !ok {
		return nil, errorx.Wrap(errors.New("missing session"), errorx.Authn)
	}

	authentication, err := do.Invoke[*services.Authentication](container)
	if err != nil {
		return nil, err
	}

	if err := authentication.RequireAccepted(user); err != nil {
		return nil, err
	}
	return user, nil
}
