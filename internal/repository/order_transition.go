package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

const orderTransitionColumns = `id, order_id, event_id, from_status, to_status, created_at`

type OrderTransitionRepository struct {
	db *sql.DB
}

func NewOrderTransitionRepository(db *sql.DB) *OrderTransitionRepository {
	return &OrderTransitionRepository{db: db}
}

func (r *OrderTransitionRepository) Create(ctx context.Context, tx *sql.Tx, t *domain.OrderTransition) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_transitions (`+orderTransitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.OrderID, t.EventID, t.FromStatus, t.ToStatus, t.CreatedAt,
	)
	if err != nil {
		return storageErr("Create", err)
	}
	return nil
}

func (r *OrderTransitionRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]domain.OrderTransition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderTransitionColumns+` FROM order_transitions
		WHERE order_id = $1 ORDER BY created_at, id`, orderID,
	)
	if err != nil {
		return nil, storageErr("ListByOrderID", err)
	}
	defer rows.Close()

	var out []domain.OrderTransition
	for rows.Next() {
		var t domain.OrderTransition
		var eventID sql.NullString
		if err := rows.Scan(&t.ID, &t.OrderID, &eventID, &t.FromStatus, &t.ToStatus, &t.CreatedAt); err != nil {
			return nil, storageErr("ListByOrderID: scan", err)
		}
		t.EventID = eventID.String
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ListByOrderID: rows", err)
	}
	return out, nil
}
