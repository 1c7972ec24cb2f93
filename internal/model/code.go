package model

import "time"

// Channel names partition the redemption-code pool.  Codes provisioned for
// one sales source are invisible to another unless the caller explicitly
// opts into common-pool fallback at redemption time.
const (
	ChannelCommon = "common" // shared pool used as a fallback tier
)

// RedemptionCode is a single-use token exchanged for a seat in a
// capacity-limited account.  A code is provisioned empty (unbound or bound
// to a specific account) and is mutated exactly once, atomically, when the
// allocator consumes it.
//
// Fields:
//  ID            – primary key identifier.
//  Code          – opaque unique token presented by the buyer.
//  Channel       – pool partition this code belongs to.
//  OrderKind     – order-type tag ("credit" or "purchase").
//  AccountID     – optional pre-bound account; nil means any account with
//                  free seats is a candidate.
//  Redeemed      – set false→true exactly once.
//  RedeemedAt    – redemption timestamp, nil until redeemed.
//  RedeemedBy    – identity (email) of the redeemer.
//  ReservedBy    – advisory hold for a specific identity; enforced only at
//                  redemption time, never at reservation time.
//  ReservedOrder – order number backing the reservation, if any.
//  ReservedAt    – when the reservation was placed.
//  PoolDate      – provisioning day; pools are scoped per day.
//  CreatedAt     – creation timestamp.
type RedemptionCode struct {
	ID            uint64     // redemption_codes.id
	Code          string     // redemption_codes.code
	Channel       string     // redemption_codes.channel
	OrderKind     string     // redemption_codes.order_kind
	AccountID     *uint64    // redemption_codes.account_id (nullable)
	Redeemed      bool       // redemption_codes.redeemed
	RedeemedAt    *time.Time // redemption_codes.redeemed_at (nullable)
	RedeemedBy    string     // redemption_codes.redeemed_by
	ReservedBy    string     // redemption_codes.reserved_by
	ReservedOrder string     // redemption_codes.reserved_order_no
	ReservedAt    *time.Time // redemption_codes.reserved_at (nullable)
	PoolDate      time.Time  // redemption_codes.pool_date
	CreatedAt     time.Time  // redemption_codes.created_at
}

// Reserved reports whether an advisory reservation is attached to the code.
func (c *RedemptionCode) Reserved() bool { return c.ReservedBy != "" }

// PoolKey returns the lock key serializing allocation against this code's
// pool, or against its pre-bound account when one is set.  Two concurrent
// redemption attempts for the same scarce code always collide on this key.
func (c *RedemptionCode) PoolKey() string {
	if c.AccountID != nil {
		return AccountLockKey(*c.AccountID)
	}
	return PoolLockKey(c.Channel)
}
