package handler

import (
	"context"  // context with cancellation for engine calls
	"net/http" // HTTP status codes
	"strings"  // input normalization
	"time"     // request timeouts

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/moxun/seatpool/internal/engine" // allocation engine
)

// RedeemHandler exposes the buyer-facing redemption endpoint.  All the
// validation and the atomic consume live in the engine; the handler only
// binds input and translates the outcome.
type RedeemHandler struct {
	Alloc *engine.Allocator
}

func NewRedeemHandler(a *engine.Allocator) *RedeemHandler {
	if a == nil {
		panic("nil allocator passed to NewRedeemHandler")
	}
	return &RedeemHandler{Alloc: a}
}

type redeemReq struct {
	Code          string `json:"code"`
	Email         string `json:"email"`
	Channel       string `json:"channel"`
	OrderKind     string `json:"order_kind"`
	AllowFallback bool   `json:"allow_fallback"`
}

type redeemResp struct {
	Code        string `json:"code"`
	AccountID   uint64 `json:"account_id"`
	AccountName string `json:"account_name"`
	InviteSent  bool   `json:"invite_sent"`
	RedeemedAt  string `json:"redeemed_at"`
}

// Redeem handles POST /v1/redeem.  A successful consume returns 200 even
// when the membership invite failed: the code is spent either way and the
// response says whether the invite went out.
func (h *RedeemHandler) Redeem(c echo.Context) error {
	var req redeemReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Code = strings.TrimSpace(req.Code)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	ful, err := h.Alloc.Redeem(ctx, engine.RedeemInput{
		Code:          req.Code,
		Email:         req.Email,
		Channel:       strings.TrimSpace(req.Channel),
		OrderKind:     strings.TrimSpace(req.OrderKind),
		AllowFallback: req.AllowFallback,
	})
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, redeemResp{
		Code:        ful.Code,
		AccountID:   ful.Account.ID,
		AccountName: ful.Account.Name,
		InviteSent:  ful.InviteSent,
		RedeemedAt:  ful.RedeemedAt.Format(time.RFC3339),
	})
}
