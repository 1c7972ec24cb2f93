package model

import "time"

// Order lifecycle.  Transitions only ever move forward:
// created → pending_payment → paid → refunded, with expired and failed as
// terminal off-ramps reachable from created/pending_payment.
const (
	OrderStatusCreated  = "created"
	OrderStatusPending  = "pending_payment"
	OrderStatusPaid     = "paid"
	OrderStatusRefunded = "refunded"
	OrderStatusExpired  = "expired"
	OrderStatusFailed   = "failed"
)

// Order kinds.  Both flavors share the same shape; they differ in which
// gateway hosts the payment page and which code pool fulfillment draws from.
const (
	OrderKindCredit   = "credit"   // gateway-hosted checkout
	OrderKindPurchase = "purchase" // classic QR / payment-link flow
)

// Action-record statuses.  The action record is the idempotence boundary: it
// is populated exactly once per order and checked before re-applying any
// fulfillment side effect.
const (
	ActionNone      = ""
	ActionFulfilled = "fulfilled"
)

// PaymentOrder tracks a buyer's order against an external payment gateway.
//
// Fields:
//  ID             – primary key identifier.
//  OrderNo        – locally generated, globally unique order number.
//  Kind           – credit or purchase.
//  BuyerEmail     – buyer identity; invites are delivered to this address.
//  AmountCents    – recorded amount in cents; compared against the
//                   gateway-reported amount before any paid transition.
//  Scene          – product / scene descriptor shown at checkout.
//  Channel        – code pool fulfillment draws from.
//  Status         – lifecycle state, see constants above.
//  GatewayTradeNo – gateway-side trade reference once known.
//  ActionStatus   – idempotent action record status.
//  ActionResult   – serialized result payload of the applied side effect.
//  QueryPayload   – last active-query response body.
//  QueryStatus    – status derived from the last active query.
//  QueriedAt      – when the last active query ran.
//  NotifyPayload  – last webhook notification payload.
//  NotifiedAt     – when the last notification arrived.
//  Note           – diagnostic note (amount mismatch, refund message).
//  CreatedAt      – creation timestamp.
//  PaidAt         – paid timestamp, nil until paid.
//  RefundedAt     – refund timestamp, nil unless refunded.
type PaymentOrder struct {
	ID             uint64     // payment_orders.id
	OrderNo        string     // payment_orders.order_no
	Kind           string     // payment_orders.kind
	BuyerEmail     string     // payment_orders.buyer_email
	AmountCents    int64      // payment_orders.amount_cents
	Scene          string     // payment_orders.scene
	Channel        string     // payment_orders.channel
	Status         string     // payment_orders.status
	GatewayTradeNo string     // payment_orders.gateway_trade_no
	ActionStatus   string     // payment_orders.action_status
	ActionResult   string     // payment_orders.action_result
	QueryPayload   string     // payment_orders.query_payload
	QueryStatus    string     // payment_orders.query_status
	QueriedAt      *time.Time // payment_orders.queried_at (nullable)
	NotifyPayload  string     // payment_orders.notify_payload
	NotifiedAt     *time.Time // payment_orders.notified_at (nullable)
	Note           string     // payment_orders.note
	CreatedAt      time.Time  // payment_orders.created_at
	PaidAt         *time.Time // payment_orders.paid_at (nullable)
	RefundedAt     *time.Time // payment_orders.refunded_at (nullable)
}

// Terminal reports whether the order is in a state no operation may leave.
func (o *PaymentOrder) Terminal() bool {
	switch o.Status {
	case OrderStatusRefunded, OrderStatusExpired, OrderStatusFailed:
		return true
	}
	return false
}

// Fulfilled reports whether the fulfillment side effect was already applied.
func (o *PaymentOrder) Fulfilled() bool { return o.ActionStatus == ActionFulfilled }

// OrderLockKey names the serialization domain for a single order.
func OrderLockKey(orderNo string) string { return "order:" + orderNo }
