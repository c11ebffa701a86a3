package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

const orderColumns = `id, restaurant_id, table_session_id, payment_status,
	gateway_session_id, gateway_payment_ref, last_applied_event_id, last_applied_at,
	total_minor_units, currency, line_items, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts an order eagerly, outside of any gateway event.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		orderArgs(order)...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateOrder)
		}
		return storageErr("Create", err)
	}
	return nil
}

// CreateIfAbsent materializes an order inside tx. It reports false when an
// order with the same id or gateway session already exists.
func (r *OrderRepository) CreateIfAbsent(ctx context.Context, tx *sql.Tx, order *domain.Order) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`,
		orderArgs(order)...,
	)
	if err != nil {
		return false, storageErr("CreateIfAbsent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("CreateIfAbsent: rows affected", err)
	}
	return n == 1, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id,
	)
	return r.one("GetByID", row)
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id,
	)
	return r.one("GetForUpdate", row)
}

func (r *OrderRepository) GetBySessionForUpdate(ctx context.Context, tx *sql.Tx, sessionID string) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE gateway_session_id = $1 FOR UPDATE`, sessionID,
	)
	return r.one("GetBySessionForUpdate", row)
}

func (r *OrderRepository) GetByPaymentRefForUpdate(ctx context.Context, tx *sql.Tx, paymentRef string) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE gateway_payment_ref = $1
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, paymentRef,
	)
	return r.one("GetByPaymentRefForUpdate", row)
}

// ApplyTransition moves the order from one status to the next only if it is
// still in from. A concurrent writer that got there first yields
// ErrVersionConflict.
func (r *OrderRepository) ApplyTransition(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.PaymentStatus, eventID string, paymentRef *string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET payment_status = $1,
			gateway_payment_ref = COALESCE(gateway_payment_ref, $2),
			last_applied_event_id = $3, last_applied_at = $4, updated_at = now()
		WHERE id = $5 AND payment_status = $6`,
		to, paymentRef, eventID, at, id, from,
	)
	if err != nil {
		return storageErr("ApplyTransition", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return storageErr("ApplyTransition: rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("ApplyTransition: %w", domain.ErrVersionConflict)
	}
	return nil
}

// Touch records an event that matched the order's current status without
// changing it. An event older than the last applied one does not replace it.
func (r *OrderRepository) Touch(ctx context.Context, tx *sql.Tx, id uuid.UUID, eventID string, paymentRef *string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET gateway_payment_ref = COALESCE(gateway_payment_ref, $1),
			last_applied_event_id = CASE
				WHEN last_applied_at IS NULL OR $3 >= last_applied_at THEN $2
				ELSE last_applied_event_id END,
			last_applied_at = GREATEST(COALESCE(last_applied_at, $3), $3),
			updated_at = now()
		WHERE id = $4`,
		paymentRef, eventID, at, id,
	)
	if err != nil {
		return storageErr("Touch", err)
	}
	return nil
}

// AttachSession binds a freshly created gateway session to an order that has
// not been paid yet and moves it to pending_checkout.
func (r *OrderRepository) AttachSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET gateway_session_id = $1, payment_status = $2, updated_at = now()
		WHERE id = $3 AND payment_status IN ('none', 'pending_checkout')`,
		sessionID, domain.PaymentStatusPendingCheckout, id,
	)
	if err != nil {
		return storageErr("AttachSession", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return storageErr("AttachSession: rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("AttachSession: %w", domain.ErrVersionConflict)
	}
	return nil
}

func (r *OrderRepository) one(op string, row *sql.Row) (*domain.Order, error) {
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrOrderNotFound)
		}
		return nil, storageErr(op, err)
	}
	return o, nil
}

func orderArgs(o *domain.Order) []any {
	items := []byte(o.LineItems)
	if len(items) == 0 {
		items = []byte("[]")
	}
	return []any{
		o.ID, o.RestaurantID, o.TableSessionID, o.PaymentStatus,
		o.GatewaySessionID, o.GatewayPaymentRef, o.LastAppliedEventID, o.LastAppliedAt,
		o.TotalMinorUnits, o.Currency, items, o.CreatedAt, o.UpdatedAt,
	}
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var items []byte

	err := s.Scan(
		&o.ID, &o.RestaurantID, &o.TableSessionID, &o.PaymentStatus,
		&o.GatewaySessionID, &o.GatewayPaymentRef, &o.LastAppliedEventID, &o.LastAppliedAt,
		&o.TotalMinorUnits, &o.Currency, &items, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.LineItems = items
	return &o, nil
}
