package handler

import (
	"context"  // context with cancellation for engine and DB calls
	"errors"   // sentinel comparisons
	"net/http" // HTTP status codes
	"strconv"  // query-parameter parsing
	"strings"  // input normalization
	"time"     // request timeouts and timestamp formatting

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/moxun/seatpool/internal/engine"     // order lifecycle engine
	"github.com/moxun/seatpool/internal/model"      // record shapes
	"github.com/moxun/seatpool/internal/repository" // DB repositories
)

// AdminHandler groups the authenticated operator surface: forced gateway
// sync, refunds, expiry and listings.  JWT authentication and the ADMIN
// role check run in middleware before any of these methods.
type AdminHandler struct {
	Flow   *engine.OrderFlow
	Orders *repository.OrderRepo
	Codes  *repository.CodeRepo
}

func NewAdminHandler(f *engine.OrderFlow, o *repository.OrderRepo, codes *repository.CodeRepo) *AdminHandler {
	if f == nil || o == nil || codes == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Flow: f, Orders: o, Codes: codes}
}

// adminOrderPart is the full order view for operators, including the
// reconciliation snapshots buyers never see.
type adminOrderPart struct {
	ID             uint64 `json:"id"`
	OrderNo        string `json:"order_no"`
	Kind           string `json:"kind"`
	BuyerEmail     string `json:"buyer_email"`
	AmountCents    int64  `json:"amount_cents"`
	Scene          string `json:"scene"`
	Channel        string `json:"channel"`
	Status         string `json:"status"`
	GatewayTradeNo string `json:"gateway_trade_no,omitempty"`
	ActionStatus   string `json:"action_status,omitempty"`
	ActionResult   string `json:"action_result,omitempty"`
	QueryStatus    string `json:"query_status,omitempty"`
	QueriedAt      string `json:"queried_at,omitempty"`
	NotifiedAt     string `json:"notified_at,omitempty"`
	Note           string `json:"note,omitempty"`
	CreatedAt      string `json:"created_at"`
	PaidAt         string `json:"paid_at,omitempty"`
	RefundedAt     string `json:"refunded_at,omitempty"`
}

func toAdminOrderPart(o *model.PaymentOrder) adminOrderPart {
	p := adminOrderPart{
		ID:             o.ID,
		OrderNo:        o.OrderNo,
		Kind:           o.Kind,
		BuyerEmail:     o.BuyerEmail,
		AmountCents:    o.AmountCents,
		Scene:          o.Scene,
		Channel:        o.Channel,
		Status:         o.Status,
		GatewayTradeNo: o.GatewayTradeNo,
		ActionStatus:   o.ActionStatus,
		ActionResult:   o.ActionResult,
		QueryStatus:    o.QueryStatus,
		Note:           o.Note,
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
	}
	if o.QueriedAt != nil {
		p.QueriedAt = o.QueriedAt.Format(time.RFC3339)
	}
	if o.NotifiedAt != nil {
		p.NotifiedAt = o.NotifiedAt.Format(time.RFC3339)
	}
	if o.PaidAt != nil {
		p.PaidAt = o.PaidAt.Format(time.RFC3339)
	}
	if o.RefundedAt != nil {
		p.RefundedAt = o.RefundedAt.Format(time.RFC3339)
	}
	return p
}

// SyncOrder handles POST /v1/admin/orders/:no/sync.  It forces an active
// gateway query regardless of the cooldown or the active-query toggle, used
// when a notification was lost and the buyer is waiting.
func (h *AdminHandler) SyncOrder(c echo.Context) error {
	orderNo := strings.TrimSpace(c.Param("no"))
	if orderNo == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order number required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	order, err := h.Flow.Query(ctx, orderNo, true)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toAdminOrderPart(order))
}

type refundReq struct {
	Message string `json:"message"`
}

// RefundOrder handles POST /v1/admin/orders/:no/refund.
func (h *AdminHandler) RefundOrder(c echo.Context) error {
	orderNo := strings.TrimSpace(c.Param("no"))
	if orderNo == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order number required"})
	}
	var req refundReq
	_ = c.Bind(&req) // message is optional

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	if err := h.Flow.Refund(ctx, orderNo, strings.TrimSpace(req.Message)); err != nil {
		return engineError(c, err)
	}
	order, err := h.Flow.Get(ctx, orderNo)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toAdminOrderPart(order))
}

// ExpireOrder handles POST /v1/admin/orders/:no/expire.  Only unpaid
// orders can be expired; anything else is a conflict.
func (h *AdminHandler) ExpireOrder(c echo.Context) error {
	orderNo := strings.TrimSpace(c.Param("no"))
	if orderNo == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order number required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.Flow.Expire(ctx, orderNo); err != nil {
		return engineError(c, err)
	}
	order, err := h.Flow.Get(ctx, orderNo)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toAdminOrderPart(order))
}

// GetOrder handles GET /v1/admin/orders/:no.
func (h *AdminHandler) GetOrder(c echo.Context) error {
	orderNo := strings.TrimSpace(c.Param("no"))
	if orderNo == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order number required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	order, err := h.Flow.Get(ctx, orderNo)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toAdminOrderPart(order))
}

// ListOrders handles GET /v1/admin/orders?status=...&limit=...
func (h *AdminHandler) ListOrders(c echo.Context) error {
	status := strings.TrimSpace(c.QueryParam("status"))
	limit := queryLimit(c, 100)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	orders, err := h.Orders.List(ctx, status, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]adminOrderPart, 0, len(orders))
	for i := range orders {
		out = append(out, toAdminOrderPart(&orders[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": out})
}

type adminCodePart struct {
	ID         uint64  `json:"id"`
	Code       string  `json:"code"`
	Channel    string  `json:"channel"`
	OrderKind  string  `json:"order_kind"`
	AccountID  *uint64 `json:"account_id,omitempty"`
	Redeemed   bool    `json:"redeemed"`
	RedeemedAt string  `json:"redeemed_at,omitempty"`
	RedeemedBy string  `json:"redeemed_by,omitempty"`
	ReservedBy string  `json:"reserved_by,omitempty"`
	PoolDate   string  `json:"pool_date"`
}

// ListCodes handles GET /v1/admin/codes?channel=...&redeemed=...&limit=...
func (h *AdminHandler) ListCodes(c echo.Context) error {
	channel := strings.TrimSpace(c.QueryParam("channel"))
	var redeemed *bool
	if v := c.QueryParam("redeemed"); v != "" {
		b := v == "1" || v == "true"
		redeemed = &b
	}
	limit := queryLimit(c, 100)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	codes, err := h.Codes.List(ctx, channel, redeemed, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]adminCodePart, 0, len(codes))
	for i := range codes {
		code := &codes[i]
		p := adminCodePart{
			ID:         code.ID,
			Code:       code.Code,
			Channel:    code.Channel,
			OrderKind:  code.OrderKind,
			AccountID:  code.AccountID,
			Redeemed:   code.Redeemed,
			RedeemedBy: code.RedeemedBy,
			ReservedBy: code.ReservedBy,
			PoolDate:   code.PoolDate.Format("2006-01-02"),
		}
		if code.RedeemedAt != nil {
			p.RedeemedAt = code.RedeemedAt.Format(time.RFC3339)
		}
		out = append(out, p)
	}
	return c.JSON(http.StatusOK, echo.Map{"codes": out})
}

type reserveReq struct {
	Email   string `json:"email"`
	OrderNo string `json:"order_no"`
}

// ReserveCode handles POST /v1/admin/codes/:id/reserve.  It places an
// advisory hold for a buyer on an unredeemed code.  The hold is enforced at
// redemption time only: redeeming with a different email is a conflict, but
// nothing stops the reservation from being placed over an earlier one.
func (h *AdminHandler) ReserveCode(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid code id"})
	}
	var req reserveReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Codes.Reserve(ctx, id, req.Email, strings.TrimSpace(req.OrderNo), time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "code not found or already redeemed"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reserve failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"reserved": true})
}

// queryLimit parses ?limit= with a default and an upper bound of 500.
func queryLimit(c echo.Context, def int) int {
	v := c.QueryParam("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
