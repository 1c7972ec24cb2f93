package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/moxun/seatpool/internal/model"
)

// CodeRepo provides data access to the redemption_codes table.  Reads are
// plain selects; the two mutating statements are guarded updates whose
// WHERE clauses re-check the invariant (redeemed = 0) so that a write which
// lost a race affects zero rows instead of double-consuming a code.  All
// timestamps are UTC.
type CodeRepo struct {
	db *sql.DB
}

// NewCodeRepo returns a new CodeRepo bound to the provided database.
func NewCodeRepo(db *sql.DB) *CodeRepo { return &CodeRepo{db: db} }

const codeColumns = `id, code, channel, order_kind, account_id, redeemed,
	redeemed_at, redeemed_by, reserved_by, reserved_order_no, reserved_at,
	pool_date, created_at`

// scanCode reads one row into a typed record.
func scanCode(row interface{ Scan(...interface{}) error }) (*model.RedemptionCode, error) {
	var c model.RedemptionCode
	var accountID sql.NullInt64
	var redeemedAt, reservedAt sql.NullTime
	var redeemedBy, reservedBy, reservedOrder sql.NullString
	err := row.Scan(&c.ID, &c.Code, &c.Channel, &c.OrderKind, &accountID,
		&c.Redeemed, &redeemedAt, &redeemedBy, &reservedBy, &reservedOrder,
		&reservedAt, &c.PoolDate, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if accountID.Valid {
		id := uint64(accountID.Int64)
		c.AccountID = &id
	}
	if redeemedAt.Valid {
		t := redeemedAt.Time
		c.RedeemedAt = &t
	}
	if reservedAt.Valid {
		t := reservedAt.Time
		c.ReservedAt = &t
	}
	c.RedeemedBy = redeemedBy.String
	c.ReservedBy = reservedBy.String
	c.ReservedOrder = reservedOrder.String
	return &c, nil
}

// GetByCode fetches a code by its opaque token.  Returns ErrCodeNotFound
// when the token is unknown.
func (r *CodeRepo) GetByCode(ctx context.Context, code string) (*model.RedemptionCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM redemption_codes WHERE code = ?`, code)
	c, err := scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	return c, err
}

// PickUnredeemed selects one unredeemed, unreserved code from the given
// channel pool provisioned on day.  Oldest first so provisioning batches
// drain in order.  Returns ErrNoCodeAvailable when the pool is empty.
func (r *CodeRepo) PickUnredeemed(ctx context.Context, channel, orderKind string, day time.Time) (*model.RedemptionCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM redemption_codes
		 WHERE channel = ? AND order_kind = ? AND pool_date = ?
		   AND redeemed = 0 AND reserved_by = ''
		 ORDER BY id ASC LIMIT 1`,
		channel, orderKind, day.UTC().Format("2006-01-02"))
	c, err := scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCodeAvailable
	}
	return c, err
}

// MarkRedeemed flips the redeemed flag for the code, recording who consumed
// it and against which account.  The WHERE clause re-checks redeemed = 0:
// when another redeemer won the race the update touches zero rows and
// ErrCodeConsumed is returned, so the flag transitions false→true exactly
// once no matter how many callers try.
func (r *CodeRepo) MarkRedeemed(ctx context.Context, codeID, accountID uint64, by string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE redemption_codes
		 SET redeemed = 1, redeemed_at = ?, redeemed_by = ?, account_id = ?
		 WHERE id = ? AND redeemed = 0`,
		at.UTC(), by, accountID, codeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCodeConsumed
	}
	return nil
}

// Reserve places an advisory hold on the code for an identity and backing
// order.  The hold is enforced at redemption time only; reserving never
// consumes the code.  Returns ErrCodeNotFound when the code is unknown or
// already redeemed.
func (r *CodeRepo) Reserve(ctx context.Context, codeID uint64, by, orderNo string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE redemption_codes
		 SET reserved_by = ?, reserved_order_no = ?, reserved_at = ?
		 WHERE id = ? AND redeemed = 0`,
		by, orderNo, at.UTC(), codeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCodeNotFound
	}
	return nil
}

// List returns codes filtered by channel and redeemed state for the admin
// surface, newest first.  Pass channel "" or redeemed nil to skip a filter.
func (r *CodeRepo) List(ctx context.Context, channel string, redeemed *bool, limit int) ([]model.RedemptionCode, error) {
	q := `SELECT ` + codeColumns + ` FROM redemption_codes WHERE 1 = 1`
	args := make([]interface{}, 0, 3)
	if channel != "" {
		q += ` AND channel = ?`
		args = append(args, channel)
	}
	if redeemed != nil {
		q += ` AND redeemed = ?`
		args = append(args, *redeemed)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []model.RedemptionCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *c)
	}
	return codes, rows.Err()
}
