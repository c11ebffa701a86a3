package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

func testOrder() *domain.Order {
	now := time.Now().UTC()
	return &domain.Order{
		ID:              uuid.New(),
		RestaurantID:    uuid.New(),
		PaymentStatus:   domain.PaymentStatusNone,
		TotalMinorUnits: 1999,
		Currency:        "GBP",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestOrderCreate_Duplicate(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO orders`)).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), testOrder())
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
}

func TestOrderGetByID_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOrderRepository(db)

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderGetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOrderRepository(db)

	o := testOrder()
	rows := sqlmock.NewRows([]string{
		"id", "restaurant_id", "table_session_id", "payment_status",
		"gateway_session_id", "gateway_payment_ref", "last_applied_event_id", "last_applied_at",
		"total_minor_units", "currency", "line_items", "created_at", "updated_at",
	}).AddRow(o.ID.String(), o.RestaurantID.String(), "table-7", "paid",
		"cs_1", "pi_1", "evt_1", o.CreatedAt,
		int64(1999), "GBP", []byte(`[]`), o.CreatedAt, o.UpdatedAt)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM orders WHERE id = $1`)).
		WithArgs(o.ID).
		WillReturnRows(rows)

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, "pi_1", *got.GatewayPaymentRef)
	assert.Equal(t, int64(1999), got.TotalMinorUnits)
}

func TestOrderApplyTransition(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		execErr error
		wantErr error
	}{
		{name: "applied", rows: 1},
		{name: "status moved underneath", rows: 0, wantErr: domain.ErrVersionConflict},
		{name: "driver failure", execErr: errors.New("broken pipe"), wantErr: domain.ErrStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			repo := NewOrderRepository(db)

			mock.ExpectBegin()
			exp := mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $5 AND payment_status = $6`))
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.rows))
			}
			mock.ExpectRollback()

			tx, err := db.Begin()
			require.NoError(t, err)
			err = repo.ApplyTransition(context.Background(), tx, uuid.New(),
				domain.PaymentStatusPendingCheckout, domain.PaymentStatusPaid, "evt_1", nil, time.Now())
			_ = tx.Rollback()

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOrderTouch_GuardsLastAppliedEvent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOrderRepository(db)

	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := "pi_1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`WHEN last_applied_at IS NULL OR $3 >= last_applied_at THEN $2`)).
		WithArgs("pi_1", "evt_old", at, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.Touch(context.Background(), tx, id, "evt_old", &ref, at))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderAttachSession_AlreadyPaid(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`payment_status IN ('none', 'pending_checkout')`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AttachSession(context.Background(), uuid.New(), "cs_2")
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}
