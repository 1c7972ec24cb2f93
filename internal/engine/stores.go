// Package engine implements the redemption and payment-reconciliation
// core: code allocation against capacity-limited accounts, the payment
// order state machine, and webhook reconciliation.  The engine consumes
// small store interfaces (implemented by internal/repository) and returns
// typed records; it never touches HTTP or raw SQL.
package engine

import (
	"context"
	"time"

	"github.com/moxun/seatpool/internal/model"
	"github.com/moxun/seatpool/internal/queue"
)

// CodeStore is the slice of the code repository the engine needs.
type CodeStore interface {
	GetByCode(ctx context.Context, code string) (*model.RedemptionCode, error)
	PickUnredeemed(ctx context.Context, channel, orderKind string, day time.Time) (*model.RedemptionCode, error)
	MarkRedeemed(ctx context.Context, codeID, accountID uint64, by string, at time.Time) error
}

// AccountStore is the capacity ledger interface.
type AccountStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Account, error)
	PickLeastLoaded(ctx context.Context, demoted bool) (*model.Account, error)
	TakeSeat(ctx context.Context, id uint64) error
}

// OrderStore is the slice of the order repository the engine needs.
type OrderStore interface {
	Create(ctx context.Context, o *model.PaymentOrder) error
	GetByOrderNo(ctx context.Context, orderNo string) (*model.PaymentOrder, error)
	SetStatus(ctx context.Context, orderNo, from, to string) (bool, error)
	MarkPending(ctx context.Context, orderNo, tradeNo string) (bool, error)
	MarkPaid(ctx context.Context, orderNo, tradeNo string, at time.Time) (bool, error)
	MarkRefunded(ctx context.Context, orderNo, msg string, at time.Time) (bool, error)
	RecordAction(ctx context.Context, orderNo, status, result string) (bool, error)
	RecordQuery(ctx context.Context, orderNo, payload, status string, at time.Time) error
	RecordNotify(ctx context.Context, orderNo, payload string, at time.Time) error
	AppendNote(ctx context.Context, orderNo, note string) error
	CountCreatedSince(ctx context.Context, since time.Time) (int, error)
}

// Inviter delivers the upstream membership invite after a seat is
// allocated.  It is best-effort: a failed invite never rolls back the
// consumed code.
type Inviter interface {
	Invite(ctx context.Context, account *model.Account, email string) error
}

// EventPublisher emits fulfillment events for downstream consumers
// (audit log, notifications).  Failures are logged, never propagated.
type EventPublisher interface {
	PublishFulfillment(ctx context.Context, ev queue.FulfillmentEvent) error
}

// Config is the engine's injected configuration.  Feature toggles that used
// to be read from the process environment at call sites live here instead.
type Config struct {
	// EnableActiveQuery permits pull-based reconciliation against the
	// gateway when push notification is unreliable or disabled.
	EnableActiveQuery bool
	// EnableServerRefund permits gateway-side refunds from the admin
	// surface; when false, refunds only update local state.
	EnableServerRefund bool
	// QueryMinInterval throttles active queries per order unless forced.
	QueryMinInterval time.Duration
	// CommonPool is the shared fallback channel name.
	CommonPool string
	// FallbackWindowEndHour bounds the yesterday-pool fallback to the
	// early morning: the fallback applies only before this hour (UTC).
	FallbackWindowEndHour int
	// DailyOrderCap limits orders created per UTC day; zero disables.
	DailyOrderCap int
}

// DefaultConfig returns the engine defaults used when an env value is
// absent.
func DefaultConfig() Config {
	return Config{
		EnableActiveQuery:     true,
		EnableServerRefund:    false,
		QueryMinInterval:      30 * time.Second,
		CommonPool:            model.ChannelCommon,
		FallbackWindowEndHour: 4,
		DailyOrderCap:         0,
	}
}
