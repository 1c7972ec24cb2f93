package engine

import (
	"context"
	"log"
	"net/url"
	"sync"
	"time"
)

// Acknowledgement tokens.  The gateways expect exactly one of these two
// bare-text bodies within their timeout; anything else triggers a retry.
const (
	AckSuccess = "success"
	AckFail    = "fail"
)

// Reconciler verifies inbound payment-gateway notifications, deduplicates
// them and drives the paid transition.  The acknowledgement is decided
// synchronously; the fulfillment path runs on a background goroutine so a
// slow downstream step can never make the gateway time out and re-deliver.
type Reconciler struct {
	flow     *OrderFlow
	orders   OrderStore
	gateways map[string]*Gateway // keyed by route name
	now      func() time.Time

	wg sync.WaitGroup
}

// NewReconciler constructs a Reconciler over the given gateways, keyed by
// the name used in the webhook route.
func NewReconciler(flow *OrderFlow, orders OrderStore, gateways map[string]*Gateway) *Reconciler {
	if flow == nil || orders == nil {
		panic("nil dependency passed to NewReconciler")
	}
	return &Reconciler{
		flow:     flow,
		orders:   orders,
		gateways: gateways,
		now:      time.Now,
	}
}

// HandleNotification processes one gateway callback and returns the
// acknowledgement to write back.  Each step short-circuits:
//
//  1. no order number              → fail, nothing to do
//  2. bad merchant id or signature → fail, no state change
//  3. trade status not success     → success (stop the retries), no change
//  4. otherwise                    → success now, settle asynchronously
//
// Replayed notifications are no-ops: the asynchronous path re-fetches the
// order under its lock and checks status and action record before acting.
func (r *Reconciler) HandleNotification(gatewayName string, params url.Values) string {
	orderNo := params.Get("out_trade_no")
	if orderNo == "" {
		return AckFail
	}

	gw, ok := r.gateways[gatewayName]
	if !ok {
		log.Printf("reconciler: notification for unknown gateway %q", gatewayName)
		return AckFail
	}
	cfg := gw.Config()
	if params.Get("pid") != cfg.MerchantID {
		log.Printf("reconciler: merchant id mismatch on %s for order %s", gatewayName, orderNo)
		return AckFail
	}
	if !VerifySign(params, cfg.Secret) {
		log.Printf("reconciler: bad signature on %s for order %s", gatewayName, orderNo)
		return AckFail
	}

	if params.Get("trade_status") != TradeStatusSuccess {
		// Acknowledge so the gateway stops retrying a non-success
		// status; there is nothing to apply.
		return AckSuccess
	}

	tradeNo := params.Get("trade_no")
	amountCents, err := ParseAmountCents(params.Get("money"))
	if err != nil {
		log.Printf("reconciler: malformed amount %q for order %s", params.Get("money"), orderNo)
		return AckFail
	}
	payload := params.Encode()

	// Acknowledge first; everything past this point is invisible to the
	// gateway.  The gateway owns retry policy for delivery, we own
	// idempotent application.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.settle(orderNo, tradeNo, payload, amountCents)
	}()
	return AckSuccess
}

// settle records the notification snapshot and applies the paid transition.
// It runs detached from the HTTP request, with its own deadline.
func (r *Reconciler) settle(orderNo, tradeNo, payload string, amountCents int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := r.orders.RecordNotify(ctx, orderNo, payload, r.now()); err != nil {
		log.Printf("reconciler: record notify snapshot for %s: %v", orderNo, err)
	}
	if err := r.flow.ApplyPayment(ctx, orderNo, tradeNo, amountCents); err != nil {
		log.Printf("reconciler: apply payment for %s: %v", orderNo, err)
	}
}

// Wait blocks until all in-flight settlements finish.  Used at shutdown
// and by tests.
func (r *Reconciler) Wait() { r.wg.Wait() }
