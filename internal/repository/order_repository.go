package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/moxun/seatpool/internal/model"
)

// OrderRepo provides data access to the payment_orders table.  Status
// writes carry their expected current status in the WHERE clause so a
// transition applied twice, or applied after the order already moved on,
// affects zero rows; callers treat that as a no-op replay, never as an
// error to retry.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the provided database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `id, order_no, kind, buyer_email, amount_cents, scene,
	channel, status, gateway_trade_no, action_status, action_result,
	query_payload, query_status, queried_at, notify_payload, notified_at,
	note, created_at, paid_at, refunded_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*model.PaymentOrder, error) {
	var o model.PaymentOrder
	var queriedAt, notifiedAt, paidAt, refundedAt sql.NullTime
	err := row.Scan(&o.ID, &o.OrderNo, &o.Kind, &o.BuyerEmail, &o.AmountCents,
		&o.Scene, &o.Channel, &o.Status, &o.GatewayTradeNo, &o.ActionStatus,
		&o.ActionResult, &o.QueryPayload, &o.QueryStatus, &queriedAt,
		&o.NotifyPayload, &notifiedAt, &o.Note, &o.CreatedAt, &paidAt,
		&refundedAt)
	if err != nil {
		return nil, err
	}
	if queriedAt.Valid {
		t := queriedAt.Time
		o.QueriedAt = &t
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		o.NotifiedAt = &t
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	if refundedAt.Valid {
		t := refundedAt.Time
		o.RefundedAt = &t
	}
	return &o, nil
}

// Create inserts a new order in state created.
func (r *OrderRepo) Create(ctx context.Context, o *model.PaymentOrder) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_orders
		 (order_no, kind, buyer_email, amount_cents, scene, channel, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderNo, o.Kind, o.BuyerEmail, o.AmountCents, o.Scene, o.Channel,
		model.OrderStatusCreated, o.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err == nil {
		o.ID = uint64(id)
	}
	o.Status = model.OrderStatusCreated
	return nil
}

// GetByOrderNo fetches an order by number.  Returns ErrOrderNotFound when
// the number is unknown.
func (r *OrderRepo) GetByOrderNo(ctx context.Context, orderNo string) (*model.PaymentOrder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM payment_orders WHERE order_no = ?`, orderNo)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// SetStatus moves the order from one status to another.  The expected
// current status guards the write; zero rows affected means the order is no
// longer where the caller saw it, reported as changed=false.
func (r *OrderRepo) SetStatus(ctx context.Context, orderNo, from, to string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders SET status = ? WHERE order_no = ? AND status = ?`,
		to, orderNo, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkPending records the gateway trade reference and moves the order into
// pending_payment.
func (r *OrderRepo) MarkPending(ctx context.Context, orderNo, tradeNo string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders SET status = ?, gateway_trade_no = ?
		 WHERE order_no = ? AND status = ?`,
		model.OrderStatusPending, tradeNo, orderNo, model.OrderStatusCreated)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkPaid moves the order into paid from created or pending_payment,
// recording the trade reference and paid timestamp.  Terminal and
// already-paid orders are untouched.
func (r *OrderRepo) MarkPaid(ctx context.Context, orderNo, tradeNo string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders
		 SET status = ?, gateway_trade_no = ?, paid_at = ?
		 WHERE order_no = ? AND status IN (?, ?)`,
		model.OrderStatusPaid, tradeNo, at.UTC(), orderNo,
		model.OrderStatusCreated, model.OrderStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRefunded moves a paid order into refunded with a message.
func (r *OrderRepo) MarkRefunded(ctx context.Context, orderNo, msg string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders
		 SET status = ?, refunded_at = ?, note = ?
		 WHERE order_no = ? AND status = ?`,
		model.OrderStatusRefunded, at.UTC(), msg, orderNo, model.OrderStatusPaid)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordAction populates the idempotent action record.  The guard
// action_status = '' makes the write first-wins: the record is populated
// exactly once per order.
func (r *OrderRepo) RecordAction(ctx context.Context, orderNo, status, result string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders SET action_status = ?, action_result = ?
		 WHERE order_no = ? AND action_status = ''`,
		status, result, orderNo)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordQuery stores the last active-query snapshot.
func (r *OrderRepo) RecordQuery(ctx context.Context, orderNo, payload, status string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders SET query_payload = ?, query_status = ?, queried_at = ?
		 WHERE order_no = ?`,
		payload, status, at.UTC(), orderNo)
	return err
}

// RecordNotify stores the last webhook notification snapshot.
func (r *OrderRepo) RecordNotify(ctx context.Context, orderNo, payload string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders SET notify_payload = ?, notified_at = ?
		 WHERE order_no = ?`,
		payload, at.UTC(), orderNo)
	return err
}

// AppendNote records a diagnostic note, such as an amount mismatch that
// blocked a paid transition.
func (r *OrderRepo) AppendNote(ctx context.Context, orderNo, note string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_orders
		 SET note = IF(note = '', ?, CONCAT(note, '; ', ?))
		 WHERE order_no = ?`,
		note, note, orderNo)
	return err
}

// CountCreatedSince counts orders created at or after the cut-off.  The
// engine re-checks the daily cap with this inside its lock immediately
// before inserting.
func (r *OrderRepo) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_orders WHERE created_at >= ?`,
		since.UTC()).Scan(&n)
	return n, err
}

// List returns orders for the admin surface, newest first, optionally
// filtered by status.
func (r *OrderRepo) List(ctx context.Context, status string, limit int) ([]model.PaymentOrder, error) {
	q := `SELECT ` + orderColumns + ` FROM payment_orders`
	args := make([]interface{}, 0, 2)
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []model.PaymentOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
