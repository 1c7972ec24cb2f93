package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moxun/seatpool/internal/model"
	"github.com/moxun/seatpool/internal/queue"
	"github.com/moxun/seatpool/internal/repository"
)

// In-memory stores used across the engine tests.  They are mutex-guarded so
// concurrency tests exercise the engine's locking, not data races in the
// fakes, and their guarded updates mirror the SQL WHERE-clause semantics of
// the real repositories.

type fakeCodeStore struct {
	mu    sync.Mutex
	codes map[string]*model.RedemptionCode
}

func newFakeCodeStore(codes ...*model.RedemptionCode) *fakeCodeStore {
	s := &fakeCodeStore{codes: make(map[string]*model.RedemptionCode)}
	for _, c := range codes {
		cp := *c
		s.codes[c.Code] = &cp
	}
	return s
}

func (s *fakeCodeStore) GetByCode(_ context.Context, code string) (*model.RedemptionCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, repository.ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeCodeStore) PickUnredeemed(_ context.Context, channel, orderKind string, day time.Time) (*model.RedemptionCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.RedemptionCode
	for _, c := range s.codes {
		if c.Redeemed || c.ReservedBy != "" {
			continue
		}
		if c.Channel != channel || c.OrderKind != orderKind {
			continue
		}
		if !c.PoolDate.Equal(day) {
			continue
		}
		if best == nil || c.ID < best.ID {
			best = c
		}
	}
	if best == nil {
		return nil, repository.ErrNoCodeAvailable
	}
	cp := *best
	return &cp, nil
}

func (s *fakeCodeStore) MarkRedeemed(_ context.Context, codeID, accountID uint64, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.ID != codeID {
			continue
		}
		if c.Redeemed {
			return repository.ErrCodeConsumed
		}
		c.Redeemed = true
		c.RedeemedBy = by
		c.AccountID = &accountID
		t := at
		c.RedeemedAt = &t
		return nil
	}
	return repository.ErrCodeNotFound
}

func (s *fakeCodeStore) redeemedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.codes {
		if c.Redeemed {
			n++
		}
	}
	return n
}

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[uint64]*model.Account
}

func newFakeAccountStore(accounts ...*model.Account) *fakeAccountStore {
	s := &fakeAccountStore{accounts: make(map[uint64]*model.Account)}
	for _, a := range accounts {
		cp := *a
		s.accounts[a.ID] = &cp
	}
	return s
}

func (s *fakeAccountStore) GetByID(_ context.Context, id uint64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeAccountStore) PickLeastLoaded(_ context.Context, demoted bool) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.Account
	for _, a := range s.accounts {
		if !a.Open || a.Banned || a.Demoted != demoted || !a.HasFreeSeat() {
			continue
		}
		if best == nil || a.UsedSeats < best.UsedSeats {
			best = a
		}
	}
	if best == nil {
		return nil, repository.ErrNoEligibleAccount
	}
	cp := *best
	return &cp, nil
}

func (s *fakeAccountStore) TakeSeat(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if !a.Open || a.Banned || !a.HasFreeSeat() {
		return repository.ErrNoFreeSeat
	}
	a.UsedSeats++
	return nil
}

func (s *fakeAccountStore) usedSeats(id uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].UsedSeats
}

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*model.PaymentOrder
	nextID uint64
}

func newFakeOrderStore(orders ...*model.PaymentOrder) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[string]*model.PaymentOrder)}
	for _, o := range orders {
		cp := *o
		s.orders[o.OrderNo] = &cp
	}
	return s
}

func (s *fakeOrderStore) Create(_ context.Context, o *model.PaymentOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.OrderNo]; ok {
		return fmt.Errorf("duplicate order no %s", o.OrderNo)
	}
	s.nextID++
	o.ID = s.nextID
	o.Status = model.OrderStatusCreated
	cp := *o
	s.orders[o.OrderNo] = &cp
	return nil
}

func (s *fakeOrderStore) GetByOrderNo(_ context.Context, orderNo string) (*model.PaymentOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) SetStatus(_ context.Context, orderNo, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (s *fakeOrderStore) MarkPending(_ context.Context, orderNo, tradeNo string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok || o.Status != model.OrderStatusCreated {
		return false, nil
	}
	o.Status = model.OrderStatusPending
	o.GatewayTradeNo = tradeNo
	return true, nil
}

func (s *fakeOrderStore) MarkPaid(_ context.Context, orderNo, tradeNo string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok {
		return false, nil
	}
	if o.Status != model.OrderStatusCreated && o.Status != model.OrderStatusPending {
		return false, nil
	}
	o.Status = model.OrderStatusPaid
	o.GatewayTradeNo = tradeNo
	t := at
	o.PaidAt = &t
	return true, nil
}

func (s *fakeOrderStore) MarkRefunded(_ context.Context, orderNo, msg string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok || o.Status != model.OrderStatusPaid {
		return false, nil
	}
	o.Status = model.OrderStatusRefunded
	o.Note = msg
	t := at
	o.RefundedAt = &t
	return true, nil
}

func (s *fakeOrderStore) RecordAction(_ context.Context, orderNo, status, result string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok || o.ActionStatus != "" {
		return false, nil
	}
	o.ActionStatus = status
	o.ActionResult = result
	return true, nil
}

func (s *fakeOrderStore) RecordQuery(_ context.Context, orderNo, payload, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderNo]; ok {
		o.QueryPayload = payload
		o.QueryStatus = status
		t := at
		o.QueriedAt = &t
	}
	return nil
}

func (s *fakeOrderStore) RecordNotify(_ context.Context, orderNo, payload string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderNo]; ok {
		o.NotifyPayload = payload
		t := at
		o.NotifiedAt = &t
	}
	return nil
}

func (s *fakeOrderStore) AppendNote(_ context.Context, orderNo, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderNo]; ok {
		if o.Note == "" {
			o.Note = note
		} else {
			o.Note += "; " + note
		}
	}
	return nil
}

func (s *fakeOrderStore) CountCreatedSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type fakeInviter struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (i *fakeInviter) Invite(_ context.Context, _ *model.Account, _ string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	if i.fail {
		return fmt.Errorf("membership api unavailable")
	}
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []queue.FulfillmentEvent
}

func (p *fakePublisher) PublishFulfillment(_ context.Context, ev queue.FulfillmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
