package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

const gatewayEventColumns = `event_id, type, occurred_at, payload, received_at, processing_status,
	order_id, session_id, payment_ref, draft, reason, attempts, applied_at`

// GatewayEventRepository is the event ledger: one row per gateway event id.
type GatewayEventRepository struct {
	db *sql.DB
}

func NewGatewayEventRepository(db *sql.DB) *GatewayEventRepository {
	return &GatewayEventRepository{db: db}
}

// Insert records the event as received. It reports false when a row with the
// same event id already exists; the existing row is left untouched.
func (r *GatewayEventRepository) Insert(ctx context.Context, event *domain.GatewayEvent) (bool, error) {
	draft, err := marshalDraft(event.Draft)
	if err != nil {
		return false, fmt.Errorf("Insert: %w", err)
	}

	status := event.ProcessingStatus
	if status == "" {
		status = domain.EventStatusReceived
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO gateway_events (
			event_id, type, occurred_at, payload, received_at, processing_status,
			order_id, session_id, payment_ref, draft, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.Type, event.OccurredAt, []byte(event.Payload), event.ReceivedAt, status,
		nullUUID(event.OrderID), event.SessionID, event.PaymentRef, draft, event.Reason,
	)
	if err != nil {
		return false, storageErr("Insert", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("Insert: rows affected", err)
	}
	return n == 1, nil
}

func (r *GatewayEventRepository) Get(ctx context.Context, eventID string) (*domain.GatewayEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+gatewayEventColumns+` FROM gateway_events WHERE event_id = $1`, eventID,
	)
	e, err := scanGatewayEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, storageErr("Get", err)
	}
	return e, nil
}

// GetForUpdate locks the ledger row for the rest of tx. Concurrent appliers
// of the same event queue here.
func (r *GatewayEventRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, eventID string) (*domain.GatewayEvent, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+gatewayEventColumns+` FROM gateway_events WHERE event_id = $1 FOR UPDATE`, eventID,
	)
	e, err := scanGatewayEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, storageErr("GetForUpdate", err)
	}
	return e, nil
}

func (r *GatewayEventRepository) MarkApplied(ctx context.Context, tx *sql.Tx, eventID string, orderID uuid.UUID, appliedAt time.Time) error {
	return r.setStatus(ctx, tx, "MarkApplied",
		`UPDATE gateway_events SET processing_status = $1, order_id = $2, applied_at = $3, reason = NULL,
			attempts = attempts + 1
		WHERE event_id = $4 AND processing_status <> 'applied'`,
		domain.EventStatusApplied, orderID, appliedAt, eventID,
	)
}

func (r *GatewayEventRepository) MarkSkipped(ctx context.Context, tx *sql.Tx, eventID string, orderID *uuid.UUID, reason string) error {
	return r.setStatus(ctx, tx, "MarkSkipped",
		`UPDATE gateway_events SET processing_status = $1, order_id = COALESCE($2, order_id), reason = $3,
			attempts = attempts + 1
		WHERE event_id = $4 AND processing_status <> 'applied'`,
		domain.EventStatusSkipped, nullUUID(orderID), reason, eventID,
	)
}

// MarkFailed records an application failure outside any transaction so the
// attempt survives the rollback of the failed one.
func (r *GatewayEventRepository) MarkFailed(ctx context.Context, eventID string, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE gateway_events SET processing_status = $1, reason = $2, attempts = attempts + 1
		WHERE event_id = $3 AND processing_status <> 'applied'`,
		domain.EventStatusFailed, reason, eventID,
	)
	if err != nil {
		return storageErr("MarkFailed", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return storageErr("MarkFailed: rows affected", err)
	}
	return nil
}

func (r *GatewayEventRepository) setStatus(ctx context.Context, tx *sql.Tx, op, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return storageErr(op+": rows affected", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

// StatesByIDs returns the recorded status, order and reason of every known
// id in ids. Unknown ids are absent from the map.
func (r *GatewayEventRepository) StatesByIDs(ctx context.Context, ids []string) (map[string]domain.EventState, error) {
	out := make(map[string]domain.EventState, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT event_id, processing_status, order_id, reason FROM gateway_events WHERE event_id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, storageErr("StatesByIDs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var st domain.EventState
		var orderID uuid.NullUUID
		var reason sql.NullString
		if err := rows.Scan(&id, &st.Status, &orderID, &reason); err != nil {
			return nil, storageErr("StatesByIDs: scan", err)
		}
		if orderID.Valid {
			st.OrderID = &orderID.UUID
		}
		if reason.Valid {
			st.Reason = &reason.String
		}
		out[id] = st
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("StatesByIDs: rows", err)
	}
	return out, nil
}

// ListSkipped returns skipped events routed to the order by id, gateway
// session or payment reference, oldest first.
func (r *GatewayEventRepository) ListSkipped(ctx context.Context, orderID uuid.UUID, sessionID, paymentRef *string, limit int) ([]domain.GatewayEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gatewayEventColumns+` FROM gateway_events
		WHERE processing_status = $1
			AND (order_id = $2
				OR ($3::text IS NOT NULL AND session_id = $3)
				OR ($4::text IS NOT NULL AND payment_ref = $4))
		ORDER BY occurred_at, event_id
		LIMIT $5`,
		domain.EventStatusSkipped, orderID, sessionID, paymentRef, limit,
	)
	if err != nil {
		return nil, storageErr("ListSkipped", err)
	}
	defer rows.Close()

	var events []domain.GatewayEvent
	for rows.Next() {
		e, err := scanGatewayEvent(rows)
		if err != nil {
			return nil, storageErr("ListSkipped: scan", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ListSkipped: rows", err)
	}
	return events, nil
}

func scanGatewayEvent(s scanner) (*domain.GatewayEvent, error) {
	var e domain.GatewayEvent
	var orderID uuid.NullUUID
	var payload []byte
	var draft []byte

	err := s.Scan(
		&e.EventID, &e.Type, &e.OccurredAt, &payload, &e.ReceivedAt, &e.ProcessingStatus,
		&orderID, &e.SessionID, &e.PaymentRef, &draft, &e.Reason, &e.Attempts, &e.AppliedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Payload = payload
	if orderID.Valid {
		e.OrderID = &orderID.UUID
	}
	if len(draft) > 0 {
		var d domain.OrderDraft
		if err := json.Unmarshal(draft, &d); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
		e.Draft = &d
	}
	return &e, nil
}

func marshalDraft(d *domain.OrderDraft) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal draft: %w", err)
	}
	return b, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// ListPending returns events still waiting for application that arrived
// before olderThan, oldest first.
func (r *GatewayEventRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.GatewayEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gatewayEventColumns+` FROM gateway_events
		WHERE processing_status IN ('received', 'failed') AND received_at < $1
		ORDER BY occurred_at, event_id
		LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, storageErr("ListPending", err)
	}
	defer rows.Close()

	var events []domain.GatewayEvent
	for rows.Next() {
		e, err := scanGatewayEvent(rows)
		if err != nil {
			return nil, storageErr("ListPending: scan", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ListPending: rows", err)
	}
	return events, nil
}
