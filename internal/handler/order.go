package handler

import (
	"context"  // context with cancellation for engine calls
	"net/http" // HTTP status codes
	"strings"  // input normalization
	"time"     // request timeouts and timestamp formatting

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/moxun/seatpool/internal/engine" // order lifecycle engine
	"github.com/moxun/seatpool/internal/model"  // order record shapes
)

// OrderHandler exposes the buyer-facing order endpoints: creating an order
// (which returns the signed checkout redirect) and polling its status.
type OrderHandler struct {
	Flow *engine.OrderFlow
}

func NewOrderHandler(f *engine.OrderFlow) *OrderHandler {
	if f == nil {
		panic("nil order flow passed to NewOrderHandler")
	}
	return &OrderHandler{Flow: f}
}

type createOrderReq struct {
	Kind       string `json:"kind"`
	Scene      string `json:"scene"`
	Channel    string `json:"channel"`
	Email      string `json:"email"`
	AmountCents int64 `json:"amount_cents"`
}

// orderPart is the sanitized order view returned to buyers.  Gateway
// payload snapshots and internal notes stay server-side.
type orderPart struct {
	OrderNo     string `json:"order_no"`
	Kind        string `json:"kind"`
	Scene       string `json:"scene"`
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Fulfilled   bool   `json:"fulfilled"`
	CreatedAt   string `json:"created_at"`
	PaidAt      string `json:"paid_at,omitempty"`
}

func toOrderPart(o *model.PaymentOrder) orderPart {
	p := orderPart{
		OrderNo:     o.OrderNo,
		Kind:        o.Kind,
		Scene:       o.Scene,
		Channel:     o.Channel,
		Status:      o.Status,
		AmountCents: o.AmountCents,
		Fulfilled:   o.Fulfilled(),
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
	}
	if o.PaidAt != nil {
		p.PaidAt = o.PaidAt.Format(time.RFC3339)
	}
	return p
}

// Create handles POST /v1/orders.  On success the buyer gets the order
// record plus the signed gateway redirect to complete payment at.
func (h *OrderHandler) Create(c echo.Context) error {
	var req createOrderReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Flow.CreateOrder(ctx, engine.CreateOrderInput{
		Kind:        strings.TrimSpace(req.Kind),
		Scene:       strings.TrimSpace(req.Scene),
		Channel:     strings.TrimSpace(req.Channel),
		BuyerEmail:  strings.ToLower(strings.TrimSpace(req.Email)),
		AmountCents: req.AmountCents,
	})
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"order":   toOrderPart(res.Order),
		"pay_url": res.PayURL,
	})
}

// Get handles GET /v1/orders/:no?email=...&force=...  The email must match
// the buyer on record; without it (or with a mismatch) the order is not
// disclosed.  Unpaid orders are reconciled by active query, subject to the
// per-order cooldown unless force=1.
func (h *OrderHandler) Get(c echo.Context) error {
	orderNo := strings.TrimSpace(c.Param("no"))
	email := strings.ToLower(strings.TrimSpace(c.QueryParam("email")))
	if orderNo == "" || email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order number and email are required"})
	}
	force := c.QueryParam("force") == "1" || c.QueryParam("force") == "true"

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	order, err := h.Flow.Query(ctx, orderNo, force)
	if err != nil {
		return engineError(c, err)
	}
	if order.BuyerEmail != email {
		// Same response as an unknown order so order numbers cannot be
		// probed for ownership.
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown order " + orderNo, "kind": "not_found"})
	}
	return c.JSON(http.StatusOK, toOrderPart(order))
}
