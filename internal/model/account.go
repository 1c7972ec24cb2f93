package model

import (
	"fmt"
	"time"
)

// Seat limits are fixed by the upstream membership product: a regular
// account carries five invitable seats, a demoted account runs with an
// expanded limit of six and different eligibility rules.
const (
	SeatLimitRegular = 5
	SeatLimitDemoted = 6
)

// Account is a capacity-bearing target resource: a shared upstream account
// whose seats are sold one redemption code at a time.  used_seats never
// exceeds the seat limit at any observable instant; banned accounts are
// excluded from allocation entirely.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – display / login name of the upstream account.
//  UsedSeats – seats currently handed out.
//  Demoted   – demoted tier flag; raises the seat limit to six.
//  Open      – visibility flag; closed accounts take no new members.
//  Banned    – excluded from allocation and from future eligibility.
//  ExpiresAt – upstream subscription expiry, if tracked.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Account struct {
	ID        uint64     // accounts.id
	Name      string     // accounts.name
	UsedSeats int        // accounts.used_seats
	Demoted   bool       // accounts.demoted
	Open      bool       // accounts.open
	Banned    bool       // accounts.banned
	ExpiresAt *time.Time // accounts.expires_at (nullable)
	CreatedAt time.Time  // accounts.created_at
	UpdatedAt time.Time  // accounts.updated_at
}

// SeatLimit returns the maximum number of seats this account may hand out.
func (a *Account) SeatLimit() int {
	if a.Demoted {
		return SeatLimitDemoted
	}
	return SeatLimitRegular
}

// HasFreeSeat reports whether at least one seat remains.
func (a *Account) HasFreeSeat() bool { return a.UsedSeats < a.SeatLimit() }

// AccountLockKey names the serialization domain for a single account.
func AccountLockKey(id uint64) string { return fmt.Sprintf("account:%d", id) }

// PoolLockKey names the serialization domain for a channel's code pool.
func PoolLockKey(channel string) string { return "pool:" + channel }
