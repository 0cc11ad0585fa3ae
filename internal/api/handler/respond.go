package handler

import (
	"errors"
	"net/http"
	"strings"

	"animaforge/internal/services"

	"github.com/hiendaovinh/toolkit/pkg/httpx-echo"
	"github.com/labstack/echo/v4"
)

const POLICY_BLOCK_MESSAGE = "この画像には暴力的な表現、低年齢、または規約違反の可能性があります。別の画像でお試しください。"

const OOM_MESSAGE = "画像サイズエラーです。サイズの小さい画像で再生成してください。"

var oomSignals = []string{"out of memory", "would exceed allowed memory", "allocation on device", "cuda", "oom"}

var policySignals = []string{"underage", "minor", "child", "age_range", "age range", "agerange", "policy", "moderation", "violence", "rekognition"}

// abort is RestAbort plus the status codes the ticket protocol promises and
// errorx cannot express.
func abort(c echo.Context, data any, err error) error {
	if err == nil {
		return httpx.RestAbort(c, data, nil)
	}

	switch {
	case errors.Is(err, services.ErrInsufficientTickets):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "No tickets remaining."})
	case errors.Is(err, services.ErrWrongProvider):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Googleログインのみ対応しています。"})
	case errors.Is(err, services.ErrNoEmail):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Email not available."})
	case errors.Is(err, services.ErrUpstream):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": FriendlyErrorMessage(err.Error())})
	}

	return httpx.RestAbort(c, data, err)
}

// FriendlyErrorMessage rewrites known infrastructure failures into copy a
// user can act on; anything unrecognized passes through unchanged.
func FriendlyErrorMessage(raw string) string {
	if raw == "" {
		return "リクエストに失敗しました。"
	}
	lowered := strings.ToLower(raw)
	for _, signal := range oomSignals {
		if strings.Contains(lowered, signal) {
			return OOM_MESSAGE
		}
	}
	for _, signal := range policySignals {
		if strings.Contains(lowered, signal) {
			return POLICY_BLOCK_MESSAGE
		}
	}
	return raw
}

// enrichPayload returns the upstream payload with the ledger view stitched
// in; the runner's own fields are passed through untouched.
func enrichPayload(payload map[string]any, usageID string, settlement *services.Settlement) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	if usageID != "" {
		payload["usage_id"] = usageID
	}
	if settlement != nil && settlement.HasTickets {
		payload["ticketsLeft"] = settlement.TicketsLeft
	}
	return payload
}
