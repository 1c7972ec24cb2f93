// Package repository defines sentinel error values reused across the
// repositories.  Higher layers compare against them with errors.Is to
// distinguish failure scenarios: the engine wraps them into its typed error
// taxonomy, handlers never see raw SQL errors.
package repository

import "errors"

// ErrCodeNotFound is returned when no redemption code matches the token.
var ErrCodeNotFound = errors.New("redemption code not found")

// ErrCodeConsumed is returned by the guarded redeem update when the code's
// redeemed flag was already set; the false→true flip happens at most once.
var ErrCodeConsumed = errors.New("redemption code already consumed")

// ErrNoCodeAvailable is returned when a pool holds no unredeemed code for
// the requested channel and day.
var ErrNoCodeAvailable = errors.New("no code available in pool")

// ErrAccountNotFound is returned when an account id resolves to nothing.
var ErrAccountNotFound = errors.New("account not found")

// ErrNoFreeSeat is returned by the guarded seat increment when the account
// was already at its seat limit; used_seats never exceeds the limit.
var ErrNoFreeSeat = errors.New("no free seat on account")

// ErrNoEligibleAccount is returned when no open, unbanned account with a
// free seat matches the eligibility predicate.
var ErrNoEligibleAccount = errors.New("no eligible account")

// ErrOrderNotFound is returned when an order number resolves to nothing.
var ErrOrderNotFound = errors.New("order not found")

// ErrAdminNotFound is returned when an admin login email is unknown.
var ErrAdminNotFound = errors.New("admin user not found")
