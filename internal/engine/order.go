package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/moxun/seatpool/internal/lock"
	"github.com/moxun/seatpool/internal/model"
	"github.com/moxun/seatpool/internal/queue"
	"github.com/moxun/seatpool/internal/repository"
)

// transitions is the order state machine: every legal edge, forward only.
// Anything not listed is rejected, so no sequence of operations can move an
// order out of a terminal state.
var transitions = map[string][]string{
	model.OrderStatusCreated: {
		model.OrderStatusPending, model.OrderStatusPaid,
		model.OrderStatusExpired, model.OrderStatusFailed,
	},
	model.OrderStatusPending: {
		model.OrderStatusPaid, model.OrderStatusExpired, model.OrderStatusFailed,
	},
	model.OrderStatusPaid: {model.OrderStatusRefunded},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// OrderFlow drives the payment-order lifecycle: creation, webhook- and
// query-confirmed payment, fulfillment, refund and expiry.  Every mutation
// of a single order runs under that order's lock key.
type OrderFlow struct {
	orders    OrderStore
	alloc     *Allocator
	locks     *lock.Manager
	gateways  map[string]*Gateway // keyed by order kind
	publisher EventPublisher
	cfg       Config
	now       func() time.Time
	newOrder  func() string
}

// NewOrderFlow constructs an OrderFlow.  gateways maps order kinds to their
// gateway client; publisher may be nil.
func NewOrderFlow(orders OrderStore, alloc *Allocator, locks *lock.Manager, gateways map[string]*Gateway, publisher EventPublisher, cfg Config, newOrderNo func() string) *OrderFlow {
	if orders == nil || alloc == nil || locks == nil || newOrderNo == nil {
		panic("nil dependency passed to NewOrderFlow")
	}
	return &OrderFlow{
		orders:    orders,
		alloc:     alloc,
		locks:     locks,
		gateways:  gateways,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		newOrder:  newOrderNo,
	}
}

// CreateOrderInput describes a buyer's new order.
type CreateOrderInput struct {
	Kind        string
	Scene       string
	Channel     string
	BuyerEmail  string
	AmountCents int64
}

// CreateOrderResult carries the new order and its checkout redirect.
type CreateOrderResult struct {
	Order  *model.PaymentOrder
	PayURL string
}

// CreateOrder validates the request, enforces the daily cap, persists the
// order and returns the signed checkout redirect.  The cap count is taken
// inside the daily lock immediately before the insert, never from an
// earlier read.
func (f *OrderFlow) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if in.BuyerEmail == "" || in.Scene == "" {
		return nil, errf(KindValidation, "scene and email are required")
	}
	if in.AmountCents <= 0 {
		return nil, errf(KindValidation, "amount must be positive")
	}
	if in.Kind == "" {
		in.Kind = model.OrderKindPurchase
	}
	if in.Kind != model.OrderKindCredit && in.Kind != model.OrderKindPurchase {
		return nil, errf(KindValidation, "unknown order kind %q", in.Kind)
	}
	gw, ok := f.gateways[in.Kind]
	if !ok {
		return nil, errf(KindGateway, "no gateway configured for kind %q", in.Kind)
	}

	order := &model.PaymentOrder{
		OrderNo:     f.newOrder(),
		Kind:        in.Kind,
		BuyerEmail:  in.BuyerEmail,
		AmountCents: in.AmountCents,
		Scene:       in.Scene,
		Channel:     in.Channel,
		CreatedAt:   f.now().UTC(),
	}

	err := f.locks.WithLock("orders:daily", func() error {
		if f.cfg.DailyOrderCap > 0 {
			midnight := f.now().UTC().Truncate(24 * time.Hour)
			n, err := f.orders.CountCreatedSince(ctx, midnight)
			if err != nil {
				return err
			}
			if n >= f.cfg.DailyOrderCap {
				return errf(KindCapacity, "daily order cap reached")
			}
		}
		return f.orders.Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	// The buyer is being redirected to the gateway: the order is now
	// awaiting payment.
	if _, err := f.orders.MarkPending(ctx, order.OrderNo, ""); err != nil {
		return nil, err
	}
	order.Status = model.OrderStatusPending
	return &CreateOrderResult{Order: order, PayURL: gw.PayURL(order)}, nil
}

// ApplyPayment applies a gateway-confirmed payment to an order under the
// order's lock.  It is the single entry point for the paid transition, used
// by the webhook reconciler, the active-query path and forced admin syncs.
//
// Replays are safe: an order already paid and fulfilled is a no-op, an
// order in a terminal state is left untouched.  An amount mismatch blocks
// the transition, records a note and fails closed.
func (f *OrderFlow) ApplyPayment(ctx context.Context, orderNo, tradeNo string, amountCents int64) error {
	return f.locks.WithLock(model.OrderLockKey(orderNo), func() error {
		order, err := f.orders.GetByOrderNo(ctx, orderNo)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				return wrap(KindNotFound, err, "unknown order %s", orderNo)
			}
			return err
		}
		if order.Terminal() {
			// Late or replayed notification for a settled order.
			return nil
		}
		if order.Status == model.OrderStatusPaid && order.Fulfilled() {
			return nil
		}

		if order.Status != model.OrderStatusPaid {
			// Deliberate fail-closed: a reported amount that differs
			// from what we recorded never auto-transitions to paid.
			if amountCents != order.AmountCents {
				note := fmt.Sprintf("amount mismatch: recorded %d, gateway reported %d (trade %s)",
					order.AmountCents, amountCents, tradeNo)
				if err := f.orders.AppendNote(ctx, orderNo, note); err != nil {
					log.Printf("orderflow: record mismatch note for %s: %v", orderNo, err)
				}
				return errf(KindMismatch, "gateway amount does not match order %s", orderNo)
			}
			if !CanTransition(order.Status, model.OrderStatusPaid) {
				return errf(KindConflict, "order %s cannot move from %s to paid", orderNo, order.Status)
			}
			if _, err := f.orders.MarkPaid(ctx, orderNo, tradeNo, f.now()); err != nil {
				return err
			}
			order.Status = model.OrderStatusPaid
		}

		return f.fulfillLocked(ctx, order)
	})
}

// fulfillLocked applies the fulfillment side effect for a paid order.  The
// action record is the idempotence boundary: once it reads fulfilled, every
// later paid signal is a replay and does nothing.
func (f *OrderFlow) fulfillLocked(ctx context.Context, order *model.PaymentOrder) error {
	if order.Fulfilled() {
		return nil
	}
	ful, err := f.alloc.AllocateFromPool(ctx, PoolRequest{
		Channel:       order.Channel,
		OrderKind:     order.Kind,
		Email:         order.BuyerEmail,
		AllowFallback: true,
	})
	if err != nil {
		// The order stays paid with an empty action record; an
		// operator (or the next reconciliation pass) retries.
		note := fmt.Sprintf("fulfillment failed: %v", err)
		if nerr := f.orders.AppendNote(ctx, order.OrderNo, note); nerr != nil {
			log.Printf("orderflow: record fulfillment note for %s: %v", order.OrderNo, nerr)
		}
		return err
	}

	result, err := json.Marshal(map[string]interface{}{
		"code":         ful.Code,
		"account_id":   ful.Account.ID,
		"account_name": ful.Account.Name,
		"invite_sent":  ful.InviteSent,
		"redeemed_at":  ful.RedeemedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if _, err := f.orders.RecordAction(ctx, order.OrderNo, model.ActionFulfilled, string(result)); err != nil {
		return err
	}
	order.ActionStatus = model.ActionFulfilled
	order.ActionResult = string(result)

	if f.publisher != nil {
		ev := queue.FulfillmentEvent{
			OrderNo:     order.OrderNo,
			Code:        ful.Code,
			Channel:     order.Channel,
			BuyerEmail:  order.BuyerEmail,
			AccountID:   ful.Account.ID,
			AccountName: ful.Account.Name,
			UsedSeats:   ful.Account.UsedSeats,
			SeatLimit:   ful.Account.SeatLimit(),
			InviteSent:  ful.InviteSent,
			InviteError: ful.InviteError,
			RedeemedAt:  ful.RedeemedAt.Format(time.RFC3339),
		}
		if err := f.publisher.PublishFulfillment(ctx, ev); err != nil {
			log.Printf("orderflow: publish fulfillment event for %s: %v", order.OrderNo, err)
		}
	}
	return nil
}

// Query reconciles an order against its gateway by active query.  Orders
// that are paid or terminal are never re-queried; unforced queries respect
// the per-order cooldown and the active-query toggle.  The gateway call
// runs outside any lock (its own timeout bounds it); only the resulting
// paid transition takes the order lock.
func (f *OrderFlow) Query(ctx context.Context, orderNo string, force bool) (*model.PaymentOrder, error) {
	order, err := f.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, wrap(KindNotFound, err, "unknown order %s", orderNo)
		}
		return nil, err
	}
	if order.Terminal() || order.Status == model.OrderStatusPaid {
		return order, nil
	}
	if !force {
		if !f.cfg.EnableActiveQuery {
			return order, nil
		}
		if order.QueriedAt != nil && f.now().Sub(*order.QueriedAt) < f.cfg.QueryMinInterval {
			return order, nil
		}
	}
	gw, ok := f.gateways[order.Kind]
	if !ok {
		return nil, errf(KindGateway, "no gateway configured for kind %q", order.Kind)
	}

	res, err := gw.QueryOrder(ctx, orderNo)
	if err != nil {
		// Leave the throttle timestamp untouched so the caller's
		// cooldown retry is not pushed back by a gateway failure.
		return nil, err
	}
	if err := f.orders.RecordQuery(ctx, orderNo, res.Raw, res.Status, f.now()); err != nil {
		return nil, err
	}
	if res.Status == TradeStatusSuccess {
		if err := f.ApplyPayment(ctx, orderNo, res.TradeNo, res.AmountCents); err != nil {
			return nil, err
		}
	}
	return f.orders.GetByOrderNo(ctx, orderNo)
}

// Refund moves a paid order to refunded.  When server-side refunds are
// enabled the gateway refund runs first and its failure blocks the local
// transition.
func (f *OrderFlow) Refund(ctx context.Context, orderNo, msg string) error {
	return f.locks.WithLock(model.OrderLockKey(orderNo), func() error {
		order, err := f.orders.GetByOrderNo(ctx, orderNo)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				return wrap(KindNotFound, err, "unknown order %s", orderNo)
			}
			return err
		}
		if !CanTransition(order.Status, model.OrderStatusRefunded) {
			return errf(KindConflict, "order %s is %s, not refundable", orderNo, order.Status)
		}
		if f.cfg.EnableServerRefund {
			gw, ok := f.gateways[order.Kind]
			if !ok {
				return errf(KindGateway, "no gateway configured for kind %q", order.Kind)
			}
			if err := gw.Refund(ctx, order.GatewayTradeNo, order.AmountCents); err != nil {
				return err
			}
		}
		changed, err := f.orders.MarkRefunded(ctx, orderNo, msg, f.now())
		if err != nil {
			return err
		}
		if !changed {
			return errf(KindConflict, "order %s moved while refunding", orderNo)
		}
		return nil
	})
}

// Expire moves a stale unpaid order into expired.  Orders in any other
// state are left untouched and reported as a conflict.
func (f *OrderFlow) Expire(ctx context.Context, orderNo string) error {
	return f.locks.WithLock(model.OrderLockKey(orderNo), func() error {
		order, err := f.orders.GetByOrderNo(ctx, orderNo)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				return wrap(KindNotFound, err, "unknown order %s", orderNo)
			}
			return err
		}
		if !CanTransition(order.Status, model.OrderStatusExpired) {
			return errf(KindConflict, "order %s is %s, not expirable", orderNo, order.Status)
		}
		changed, err := f.orders.SetStatus(ctx, orderNo, order.Status, model.OrderStatusExpired)
		if err != nil {
			return err
		}
		if !changed {
			return errf(KindConflict, "order %s moved while expiring", orderNo)
		}
		return nil
	})
}

// Get returns the current order record.
func (f *OrderFlow) Get(ctx context.Context, orderNo string) (*model.PaymentOrder, error) {
	order, err := f.orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, wrap(KindNotFound, err, "unknown order %s", orderNo)
		}
		return nil, err
	}
	return order, nil
}
