package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/moxun/seatpool/internal/lock"
	"github.com/moxun/seatpool/internal/model"
)

var testDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testDay.Add(10 * time.Hour) }

func newTestAllocator(codes *fakeCodeStore, accounts *fakeAccountStore, orders *fakeOrderStore, inviter Inviter) *Allocator {
	a := NewAllocator(codes, accounts, orders, lock.NewManager(), inviter, DefaultConfig())
	a.now = fixedNow
	return a
}

func account(id uint64, used int) *model.Account {
	return &model.Account{ID: id, Name: "acct", UsedSeats: used, Open: true}
}

func code(id uint64, token, channel string) *model.RedemptionCode {
	return &model.RedemptionCode{
		ID: id, Code: token, Channel: channel,
		OrderKind: model.OrderKindPurchase, PoolDate: testDay,
	}
}

func TestRedeemValidationOrder(t *testing.T) {
	t.Parallel()

	boundID := uint64(7)
	reserved := code(2, "RESV", "web")
	reserved.ReservedBy = "owner@x.io"
	reserved.ReservedOrder = "ORD-1"

	spent := code(3, "SPENT", "web")
	spent.Redeemed = true

	bound := code(4, "BOUND", "web")
	bound.AccountID = &boundID

	// Reserved for one identity while the paid backing order belongs to
	// another: the reservation holder alone cannot redeem it.
	crossed := code(5, "CROSS", "web")
	crossed.ReservedBy = "holder@x.io"
	crossed.ReservedOrder = "ORD-2"

	codes := newFakeCodeStore(code(1, "FRESH", "web"), reserved, spent, bound, crossed)
	accounts := newFakeAccountStore(account(1, 0))
	orders := newFakeOrderStore(
		&model.PaymentOrder{
			OrderNo: "ORD-1", BuyerEmail: "owner@x.io", Status: model.OrderStatusPending,
		},
		&model.PaymentOrder{
			OrderNo: "ORD-2", BuyerEmail: "payer@x.io", Status: model.OrderStatusPaid,
		},
	)
	alloc := newTestAllocator(codes, accounts, orders, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		in   RedeemInput
		kind Kind
	}{
		{"missing code", RedeemInput{Email: "a@x.io"}, KindValidation},
		{"missing email", RedeemInput{Code: "FRESH"}, KindValidation},
		{"unknown code", RedeemInput{Code: "NOPE", Email: "a@x.io"}, KindNotFound},
		{"already redeemed", RedeemInput{Code: "SPENT", Email: "a@x.io"}, KindConflict},
		{"wrong channel", RedeemInput{Code: "FRESH", Email: "a@x.io", Channel: "app"}, KindConflict},
		{"reserved for someone else", RedeemInput{Code: "RESV", Email: "a@x.io", Channel: "web"}, KindConflict},
		{"reservation order not paid", RedeemInput{Code: "RESV", Email: "owner@x.io", Channel: "web"}, KindConflict},
		{"paid reservation for a different buyer", RedeemInput{Code: "CROSS", Email: "holder@x.io", Channel: "web"}, KindConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := alloc.Redeem(ctx, tc.in)
			e := AsEngineError(err)
			if e == nil {
				t.Fatalf("expected engine error, got %v", err)
			}
			if e.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %s (%v)", tc.kind, e.Kind, err)
			}
		})
	}
	// None of the rejected attempts may have consumed a code or a seat.
	if codes.redeemedCount() != 1 {
		t.Fatalf("only the pre-spent code may be redeemed, got %d", codes.redeemedCount())
	}
	if accounts.usedSeats(1) != 0 {
		t.Fatalf("no seat may be taken by a rejected redeem, got %d", accounts.usedSeats(1))
	}
}

func TestRedeemConsumesCodeOnce(t *testing.T) {
	t.Parallel()

	codes := newFakeCodeStore(code(1, "ONCE", "web"))
	accounts := newFakeAccountStore(account(1, 0))
	alloc := newTestAllocator(codes, accounts, newFakeOrderStore(), nil)
	ctx := context.Background()

	ful, err := alloc.Redeem(ctx, RedeemInput{Code: "ONCE", Email: "a@x.io", Channel: "web"})
	if err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}
	if ful.Account.ID != 1 {
		t.Fatalf("expected account 1, got %d", ful.Account.ID)
	}
	if accounts.usedSeats(1) != 1 {
		t.Fatalf("expected 1 used seat, got %d", accounts.usedSeats(1))
	}

	_, err = alloc.Redeem(ctx, RedeemInput{Code: "ONCE", Email: "b@x.io", Channel: "web"})
	e := AsEngineError(err)
	if e == nil || e.Kind != KindConflict {
		t.Fatalf("expected conflict on second redeem, got %v", err)
	}
	if accounts.usedSeats(1) != 1 {
		t.Fatalf("second redeem must not take a seat, got %d", accounts.usedSeats(1))
	}
}

// lateReservingCodeStore places a hold on the code right after its first
// read, modeling an operator reservation landing between validation and the
// locked consume.
type lateReservingCodeStore struct {
	*fakeCodeStore
	once sync.Once
	by   string
}

func (s *lateReservingCodeStore) GetByCode(ctx context.Context, token string) (*model.RedemptionCode, error) {
	c, err := s.fakeCodeStore.GetByCode(ctx, token)
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if stored, ok := s.codes[token]; ok {
			stored.ReservedBy = s.by
		}
	})
	return c, err
}

func TestRedeemSeesReservationPlacedAfterValidation(t *testing.T) {
	t.Parallel()

	codes := &lateReservingCodeStore{
		fakeCodeStore: newFakeCodeStore(code(1, "HELD", "web")),
		by:            "holder@x.io",
	}
	accounts := newFakeAccountStore(account(1, 0))
	alloc := NewAllocator(codes, accounts, newFakeOrderStore(), lock.NewManager(), nil, DefaultConfig())
	alloc.now = fixedNow

	// Validation saw an unreserved code; the re-fetch under the pool lock
	// must honor the hold that arrived in between.
	_, err := alloc.Redeem(context.Background(),
		RedeemInput{Code: "HELD", Email: "a@x.io", Channel: "web"})
	e := AsEngineError(err)
	if e == nil || e.Kind != KindConflict {
		t.Fatalf("expected conflict for the newly held code, got %v", err)
	}
	if codes.redeemedCount() != 0 {
		t.Fatalf("held code must not be consumed, got %d redeemed", codes.redeemedCount())
	}
	if accounts.usedSeats(1) != 0 {
		t.Fatalf("no seat may be taken, got %d", accounts.usedSeats(1))
	}

	// The reservation holder can still redeem it.
	ful, err := alloc.Redeem(context.Background(),
		RedeemInput{Code: "HELD", Email: "holder@x.io", Channel: "web"})
	if err != nil {
		t.Fatalf("holder's redeem failed: %v", err)
	}
	if ful.Code != "HELD" {
		t.Fatalf("expected the held code, got %s", ful.Code)
	}
}

func TestRedeemConcurrentSameCode(t *testing.T) {
	t.Parallel()

	codes := newFakeCodeStore(code(1, "RACE", "web"))
	accounts := newFakeAccountStore(account(1, 0))
	alloc := newTestAllocator(codes, accounts, newFakeOrderStore(), nil)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = alloc.Redeem(context.Background(),
				RedeemInput{Code: "RACE", Email: "a@x.io", Channel: "web"})
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		if e := AsEngineError(err); e != nil && e.Kind == KindConflict {
			conflicts++
		}
	}
	if successes != 1 || conflicts != racers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d/%d", racers-1, successes, conflicts)
	}
	if accounts.usedSeats(1) != 1 {
		t.Fatalf("expected exactly one seat taken, got %d", accounts.usedSeats(1))
	}
}

func TestRedeemLastSeatRace(t *testing.T) {
	t.Parallel()

	// One account with 4 of 5 seats used, two distinct codes bound to it:
	// exactly one buyer gets the last seat.
	boundID := uint64(1)
	c1 := code(1, "C1", "web")
	c1.AccountID = &boundID
	c2 := code(2, "C2", "web")
	c2.AccountID = &boundID

	codes := newFakeCodeStore(c1, c2)
	accounts := newFakeAccountStore(account(1, 4))
	alloc := newTestAllocator(codes, accounts, newFakeOrderStore(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, token := range []string{"C1", "C2"} {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			_, errs[i] = alloc.Redeem(context.Background(),
				RedeemInput{Code: token, Email: "a@x.io", Channel: "web"})
		}(i, token)
	}
	wg.Wait()

	successes, capacity := 0, 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		if e := AsEngineError(err); e != nil && e.Kind == KindCapacity {
			capacity++
		}
	}
	if successes != 1 || capacity != 1 {
		t.Fatalf("expected 1 success and 1 capacity error, got %d/%d (%v)", successes, capacity, errs)
	}
	if got := accounts.usedSeats(1); got != 5 {
		t.Fatalf("used seats must not exceed the limit: got %d", got)
	}
}

func TestRedeemSkipsBannedAndFullAccounts(t *testing.T) {
	t.Parallel()

	banned := account(1, 0)
	banned.Banned = true
	full := account(2, model.SeatLimitRegular)
	light := account(3, 2)
	heavy := account(4, 4)

	codes := newFakeCodeStore(code(1, "PICK", "web"))
	accounts := newFakeAccountStore(banned, full, light, heavy)
	alloc := newTestAllocator(codes, accounts, newFakeOrderStore(), nil)

	ful, err := alloc.Redeem(context.Background(),
		RedeemInput{Code: "PICK", Email: "a@x.io", Channel: "web"})
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if ful.Account.ID != 3 {
		t.Fatalf("expected least-loaded eligible account 3, got %d", ful.Account.ID)
	}
}

func TestRedeemInviteFailureDegradesNotFails(t *testing.T) {
	t.Parallel()

	codes := newFakeCodeStore(code(1, "DEGR", "web"))
	accounts := newFakeAccountStore(account(1, 0))
	inviter := &fakeInviter{fail: true}
	alloc := newTestAllocator(codes, accounts, newFakeOrderStore(), inviter)

	ful, err := alloc.Redeem(context.Background(),
		RedeemInput{Code: "DEGR", Email: "a@x.io", Channel: "web"})
	if err != nil {
		t.Fatalf("invite failure must not fail redemption: %v", err)
	}
	if ful.InviteSent {
		t.Fatalf("expected InviteSent=false")
	}
	if ful.InviteError == "" {
		t.Fatalf("expected invite error to surface in the result")
	}
	// The code stays consumed regardless.
	if codes.redeemedCount() != 1 {
		t.Fatalf("expected code consumed, got %d redeemed", codes.redeemedCount())
	}
}

func TestAllocateFromPoolFallback(t *testing.T) {
	t.Parallel()

	t.Run("draws from requested channel first", func(t *testing.T) {
		common := code(1, "COMMON", model.ChannelCommon)
		own := code(2, "OWN", "web")
		alloc := newTestAllocator(newFakeCodeStore(common, own),
			newFakeAccountStore(account(1, 0)), newFakeOrderStore(), nil)

		ful, err := alloc.AllocateFromPool(context.Background(),
			PoolRequest{Channel: "web", OrderKind: model.OrderKindPurchase, Email: "a@x.io", AllowFallback: true})
		if err != nil {
			t.Fatalf("allocate failed: %v", err)
		}
		if ful.Code != "OWN" {
			t.Fatalf("expected channel code, got %s", ful.Code)
		}
	})

	t.Run("falls back to the common pool", func(t *testing.T) {
		common := code(1, "COMMON", model.ChannelCommon)
		alloc := newTestAllocator(newFakeCodeStore(common),
			newFakeAccountStore(account(1, 0)), newFakeOrderStore(), nil)

		ful, err := alloc.AllocateFromPool(context.Background(),
			PoolRequest{Channel: "web", OrderKind: model.OrderKindPurchase, Email: "a@x.io", AllowFallback: true})
		if err != nil {
			t.Fatalf("allocate failed: %v", err)
		}
		if ful.Code != "COMMON" {
			t.Fatalf("expected common-pool code, got %s", ful.Code)
		}
	})

	t.Run("yesterday's pool only inside the morning window", func(t *testing.T) {
		old := code(1, "OLD", "web")
		old.PoolDate = testDay.AddDate(0, 0, -1)
		alloc := newTestAllocator(newFakeCodeStore(old),
			newFakeAccountStore(account(1, 0)), newFakeOrderStore(), nil)

		// 10:00 is past the default 04:00 cutoff: no fallback.
		_, err := alloc.AllocateFromPool(context.Background(),
			PoolRequest{Channel: "web", OrderKind: model.OrderKindPurchase, Email: "a@x.io", AllowFallback: true})
		if e := AsEngineError(err); e == nil || e.Kind != KindCapacity {
			t.Fatalf("expected capacity error outside window, got %v", err)
		}

		// 02:00 is inside the window.
		alloc.now = func() time.Time { return testDay.Add(2 * time.Hour) }
		ful, err := alloc.AllocateFromPool(context.Background(),
			PoolRequest{Channel: "web", OrderKind: model.OrderKindPurchase, Email: "a@x.io", AllowFallback: true})
		if err != nil {
			t.Fatalf("allocate inside window failed: %v", err)
		}
		if ful.Code != "OLD" {
			t.Fatalf("expected yesterday's code, got %s", ful.Code)
		}
	})

	t.Run("no fallback without opt-in", func(t *testing.T) {
		common := code(1, "COMMON", model.ChannelCommon)
		alloc := newTestAllocator(newFakeCodeStore(common),
			newFakeAccountStore(account(1, 0)), newFakeOrderStore(), nil)

		_, err := alloc.AllocateFromPool(context.Background(),
			PoolRequest{Channel: "web", OrderKind: model.OrderKindPurchase, Email: "a@x.io"})
		if e := AsEngineError(err); e == nil || e.Kind != KindCapacity {
			t.Fatalf("expected capacity error, got %v", err)
		}
	})
}

func TestAllocateFromPoolConcurrentFallback(t *testing.T) {
	t.Parallel()

	// A single common-pool code and two callers falling back at once:
	// the common-pool lock lets exactly one of them win.
	common := code(1, "LAST", model.ChannelCommon)
	codes := newFakeCodeStore(common)
	alloc := newTestAllocator(codes, newFakeAccountStore(account(1, 0)), newFakeOrderStore(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = alloc.AllocateFromPool(context.Background(),
				PoolRequest{Channel: "web", OrderKind: model.OrderKindPurchase, Email: "a@x.io", AllowFallback: true})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d (%v)", successes, errs)
	}
	if codes.redeemedCount() != 1 {
		t.Fatalf("expected one consumed code, got %d", codes.redeemedCount())
	}
}
