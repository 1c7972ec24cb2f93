package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/moxun/seatpool/internal/model"
)

// AccountRepo is the capacity ledger: it reads and updates per-account seat
// counters.  The seat limit is derived from the demoted flag (5 regular, 6
// demoted) and enforced in SQL on every increment, so used_seats can never
// observably exceed the limit even if two critical sections under different
// lock keys touch the same account.
type AccountRepo struct {
	db *sql.DB
}

// NewAccountRepo returns a new AccountRepo bound to the provided database.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

const accountColumns = `id, name, used_seats, demoted, open, banned,
	expires_at, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*model.Account, error) {
	var a model.Account
	var expiresAt sql.NullTime
	err := row.Scan(&a.ID, &a.Name, &a.UsedSeats, &a.Demoted, &a.Open,
		&a.Banned, &expiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	return &a, nil
}

// GetByID fetches a single account.  Returns ErrAccountNotFound when the id
// is unknown.
func (r *AccountRepo) GetByID(ctx context.Context, id uint64) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

// PickLeastLoaded selects an eligible account for allocation: open, not
// banned, matching the demoted tier, with a free seat.  Among candidates it
// takes the one with the fewest used seats, breaking ties randomly — load
// spreads across accounts instead of packing one before starting the next.
// Returns ErrNoEligibleAccount when nothing qualifies.
func (r *AccountRepo) PickLeastLoaded(ctx context.Context, demoted bool) (*model.Account, error) {
	limit := model.SeatLimitRegular
	if demoted {
		limit = model.SeatLimitDemoted
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE open = 1 AND banned = 0 AND demoted = ? AND used_seats < ?
		 ORDER BY used_seats ASC, RAND() LIMIT 1`,
		demoted, limit)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoEligibleAccount
	}
	return a, err
}

// TakeSeat increments used_seats by one.  The WHERE clause re-checks the
// capacity invariant immediately before the write: an account already at
// its limit (or banned/closed meanwhile) is left untouched and ErrNoFreeSeat
// is returned.
func (r *AccountRepo) TakeSeat(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET used_seats = used_seats + 1, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND open = 1 AND banned = 0
		   AND used_seats < IF(demoted, ?, ?)`,
		id, model.SeatLimitDemoted, model.SeatLimitRegular)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoFreeSeat
	}
	return nil
}

// ReleaseSeat decrements used_seats, flooring at zero.  Used by the admin
// surface when a member is removed upstream.
func (r *AccountRepo) ReleaseSeat(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET used_seats = used_seats - 1, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND used_seats > 0`, id)
	return err
}
