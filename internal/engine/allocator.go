package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/moxun/seatpool/internal/lock"
	"github.com/moxun/seatpool/internal/model"
	"github.com/moxun/seatpool/internal/repository"
)

// Allocator validates and consumes redemption codes and assigns seats on
// capacity-limited accounts.  Resource selection, the capacity check and
// the code's redeemed-flag flip all happen inside a single critical section
// keyed by the code's channel pool (or its pre-bound account), so two
// concurrent attempts on the same scarce code or the same near-full account
// cannot both succeed.
type Allocator struct {
	codes    CodeStore
	accounts AccountStore
	orders   OrderStore
	locks    *lock.Manager
	inviter  Inviter
	cfg      Config
	now      func() time.Time
}

// NewAllocator constructs an Allocator.  inviter may be nil, in which case
// fulfillment reports InviteSent=false and leaves delivery to operators.
func NewAllocator(codes CodeStore, accounts AccountStore, orders OrderStore, locks *lock.Manager, inviter Inviter, cfg Config) *Allocator {
	if codes == nil || accounts == nil || orders == nil || locks == nil {
		panic("nil dependency passed to NewAllocator")
	}
	return &Allocator{
		codes:    codes,
		accounts: accounts,
		orders:   orders,
		locks:    locks,
		inviter:  inviter,
		cfg:      cfg,
		now:      time.Now,
	}
}

// RedeemInput is a buyer-facing redemption request.
type RedeemInput struct {
	Code          string // the opaque token
	Email         string // buyer identity; invites go here
	Channel       string // requested channel / eligibility context
	OrderKind     string // credit or purchase; defaults to purchase
	AllowFallback bool   // permit a common-pool code to satisfy this channel
}

// Fulfillment is the successful (possibly degraded) result of consuming a
// code: the seat is taken and the code spent even when the invite failed.
type Fulfillment struct {
	Account     *model.Account
	Code        string
	Email       string
	InviteSent  bool
	InviteError string
	RedeemedAt  time.Time
}

// Redeem validates the code against the requested context and, when every
// check passes, consumes it atomically.  Validation failures each map to a
// distinct error kind in the order specified below; the first failure wins.
func (a *Allocator) Redeem(ctx context.Context, in RedeemInput) (*Fulfillment, error) {
	// 1. Malformed input.
	if in.Code == "" || in.Email == "" {
		return nil, errf(KindValidation, "code and email are required")
	}
	if in.OrderKind == "" {
		in.OrderKind = model.OrderKindPurchase
	}

	// 2. Code not found.
	code, err := a.codes.GetByCode(ctx, in.Code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, wrap(KindNotFound, err, "unknown code")
		}
		return nil, err
	}

	// 3. Already redeemed.
	if code.Redeemed {
		return nil, errf(KindConflict, "code already redeemed")
	}

	// 4. Channel mismatch.  A code from another channel is usable only
	// when the caller opted into fallback and the code belongs to the
	// shared common pool.
	if in.Channel != "" && code.Channel != in.Channel {
		if !(in.AllowFallback && code.Channel == a.cfg.CommonPool) {
			return nil, errf(KindConflict, "code belongs to a different channel")
		}
	}

	// 5–7. Reservation checks.  A reservation is advisory until this
	// moment: enforced at redemption time, never at reservation time.
	if err := a.checkReservation(ctx, code, in.Email); err != nil {
		return nil, err
	}

	return a.consume(ctx, code, in.Email, in.OrderKind)
}

// checkReservation enforces an advisory hold at redemption time: an
// unreserved code passes, a reservation must name this buyer, and a
// reservation backed by an order requires that order paid by the same
// buyer.  It runs twice on the explicit-redeem path — once pre-lock and
// again on the re-fetched code — so a hold placed while the first pass ran
// still binds.
func (a *Allocator) checkReservation(ctx context.Context, code *model.RedemptionCode, email string) error {
	if !code.Reserved() {
		return nil
	}
	if code.ReservedBy != email {
		return errf(KindConflict, "code reserved for another buyer")
	}
	if code.ReservedOrder == "" {
		return nil
	}
	order, err := a.orders.GetByOrderNo(ctx, code.ReservedOrder)
	if err != nil {
		return wrap(KindConflict, err, "reservation has no backing order")
	}
	// A reservation without a paid backing order is void.
	if order.Status != model.OrderStatusPaid {
		return errf(KindConflict, "reservation's order is not paid")
	}
	if order.BuyerEmail != email {
		return errf(KindConflict, "buyer email does not match reservation")
	}
	return nil
}

// PoolRequest asks the allocator to pick and consume a code from a channel
// pool on the buyer's behalf; used by fulfillment after a paid transition.
type PoolRequest struct {
	Channel       string
	OrderKind     string
	Email         string
	AllowFallback bool // collapse into the common pool, then yesterday's pools
}

// AllocateFromPool draws today's oldest unredeemed code from the requested
// channel.  With fallback opted in, an empty channel pool falls through to
// the shared common pool, and — only within the configured early-morning
// window — to yesterday's pools.  Each pick-and-consume runs under the
// lock of the pool it draws from, so two fallback callers cannot race for
// the same common-pool code.
func (a *Allocator) AllocateFromPool(ctx context.Context, req PoolRequest) (*Fulfillment, error) {
	if req.Channel == "" || req.Email == "" {
		return nil, errf(KindValidation, "channel and email are required")
	}
	if req.OrderKind == "" {
		req.OrderKind = model.OrderKindPurchase
	}

	type attempt struct {
		channel string
		day     time.Time
	}
	today := a.now().UTC().Truncate(24 * time.Hour)
	hasCommon := a.cfg.CommonPool != "" && a.cfg.CommonPool != req.Channel

	attempts := []attempt{{req.Channel, today}}
	if req.AllowFallback {
		if hasCommon {
			attempts = append(attempts, attempt{a.cfg.CommonPool, today})
		}
		// Yesterday's pools are reachable only in the early-morning
		// window; the cutoff hour is configuration, not a rule.
		if a.now().UTC().Hour() < a.cfg.FallbackWindowEndHour {
			yesterday := today.AddDate(0, 0, -1)
			attempts = append(attempts, attempt{req.Channel, yesterday})
			if hasCommon {
				attempts = append(attempts, attempt{a.cfg.CommonPool, yesterday})
			}
		}
	}

	for _, at := range attempts {
		var ful *Fulfillment
		err := a.locks.WithLock(model.PoolLockKey(at.channel), func() error {
			code, err := a.codes.PickUnredeemed(ctx, at.channel, req.OrderKind, at.day)
			if err != nil {
				return err
			}
			f, err := a.consumeLocked(ctx, code, req.Email, req.OrderKind)
			if err != nil {
				return err
			}
			ful = f
			return nil
		})
		if err == nil {
			return a.finish(ctx, ful)
		}
		if isPoolEmpty(err) {
			continue
		}
		return nil, err
	}
	return nil, errf(KindCapacity, "no code available for channel %q today", req.Channel)
}

// consume wraps consumeLocked in the critical section keyed by the code's
// pool (or pre-bound account) and runs the best-effort invite afterwards.
func (a *Allocator) consume(ctx context.Context, code *model.RedemptionCode, email, orderKind string) (*Fulfillment, error) {
	var ful *Fulfillment
	err := a.locks.WithLock(code.PoolKey(), func() error {
		// Re-fetch under the lock: the pre-lock view may be stale.
		fresh, err := a.codes.GetByCode(ctx, code.Code)
		if err != nil {
			if errors.Is(err, repository.ErrCodeNotFound) {
				return wrap(KindNotFound, err, "unknown code")
			}
			return err
		}
		if fresh.Redeemed {
			return errf(KindConflict, "code already redeemed")
		}
		// A reservation may have landed between validation and here.
		if err := a.checkReservation(ctx, fresh, email); err != nil {
			return err
		}
		f, err := a.consumeLocked(ctx, fresh, email, orderKind)
		if err != nil {
			return err
		}
		ful = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.finish(ctx, ful)
}

// consumeLocked selects the target account, takes a seat and flips the
// code's redeemed flag.  Callers must hold the lock covering this code's
// serialization domain.
func (a *Allocator) consumeLocked(ctx context.Context, code *model.RedemptionCode, email, orderKind string) (*Fulfillment, error) {
	account, err := a.selectAccount(ctx, code, orderKind)
	if err != nil {
		return nil, err
	}
	if err := a.accounts.TakeSeat(ctx, account.ID); err != nil {
		return nil, wrap(KindCapacity, err, "account %d has no free seat", account.ID)
	}
	at := a.now().UTC()
	if err := a.codes.MarkRedeemed(ctx, code.ID, account.ID, email, at); err != nil {
		// The seat was taken but the code lost a race; under the pool
		// lock this means a concurrent consumer on a different key
		// already spent it.
		return nil, wrap(KindConflict, err, "code already redeemed")
	}
	account.UsedSeats++
	return &Fulfillment{Account: account, Code: code.Code, Email: email, RedeemedAt: at}, nil
}

// selectAccount resolves the allocation target.  A pre-bound code admits
// exactly one candidate; otherwise the least-loaded eligible account of the
// required tier wins, ties broken randomly by the store.
func (a *Allocator) selectAccount(ctx context.Context, code *model.RedemptionCode, orderKind string) (*model.Account, error) {
	if code.AccountID != nil {
		account, err := a.accounts.GetByID(ctx, *code.AccountID)
		if err != nil {
			return nil, wrap(KindNotFound, err, "bound account %d not found", *code.AccountID)
		}
		if account.Banned || !account.Open {
			return nil, errf(KindCapacity, "bound account %d is not accepting members", account.ID)
		}
		if !account.HasFreeSeat() {
			return nil, errf(KindCapacity, "bound account %d is full", account.ID)
		}
		return account, nil
	}
	// Credit orders allocate from the demoted tier, purchases from the
	// regular tier.
	demoted := orderKind == model.OrderKindCredit
	account, err := a.accounts.PickLeastLoaded(ctx, demoted)
	if err != nil {
		return nil, wrap(KindCapacity, err, "no eligible account with free seats")
	}
	return account, nil
}

// finish runs the membership invite outside the critical section.  The code
// is already consumed; invite failure degrades the result instead of
// failing it.
func (a *Allocator) finish(ctx context.Context, ful *Fulfillment) (*Fulfillment, error) {
	if a.inviter == nil {
		return ful, nil
	}
	if err := a.inviter.Invite(ctx, ful.Account, ful.Email); err != nil {
		log.Printf("allocator: invite for account %d failed: %v", ful.Account.ID, err)
		ful.InviteError = err.Error()
		return ful, nil
	}
	ful.InviteSent = true
	return ful, nil
}

// isPoolEmpty reports whether err means "nothing to draw from this pool",
// which fallback treats as a cue to try the next pool rather than a
// failure.
func isPoolEmpty(err error) bool {
	return errors.Is(err, repository.ErrNoCodeAvailable)
}
