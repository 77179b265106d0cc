package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	"github.com/fekuna/omnipos-reservation-service/internal/inventory/dto"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*PGRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGRepository(sqlx.NewDb(db, "pgx")), mock
}

var stockColumns = []string{"product_id", "total_stock", "reserved_stock", "updated_at"}

func TestGetStock(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM product_stock WHERE product_id = $1`)).
		WithArgs("P").
		WillReturnRows(sqlmock.NewRows(stockColumns).AddRow("P", 10, 4, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM product_stock WHERE product_id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(stockColumns))

	s, err := repo.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, int64(6), s.Available())

	s, err = repo.GetStock(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, s)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinLedger_LocksInProductOrder(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM product_stock\s+WHERE product_id IN \(\$1, \$2\)\s+ORDER BY product_id\s+FOR UPDATE`).
		WithArgs("A", "B").
		WillReturnRows(sqlmock.NewRows(stockColumns).AddRow("A", 5, 0, now).AddRow("B", 3, 1, now))
	mock.ExpectExec(`INSERT INTO product_stock`).
		WithArgs("B", int64(3), int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO inventory_movements`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithinLedger(context.Background(), func(ctx context.Context, ledger inventory.Ledger) error {
		rows, err := ledger.LockStock(ctx, []string{"B", "A"})
		if err != nil {
			return err
		}
		require.Len(t, rows, 2)

		b := rows["B"]
		b.ReservedStock++
		if err := ledger.UpdateStock(ctx, b); err != nil {
			return err
		}
		return ledger.LogMovement(ctx, &model.InventoryMovement{
			ID:              "m-1",
			ProductID:       "B",
			MovementType:    model.MovementReserve,
			ReservedChange:  1,
			AvailableBefore: 2,
			AvailableAfter:  1,
			CreatedAt:       now,
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinLedger_RollsBackOnError(t *testing.T) {
	repo, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := repo.WithinLedger(context.Background(), func(ctx context.Context, ledger inventory.Ledger) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStock_RejectsBrokenInvariant(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := repo.WithinLedger(context.Background(), func(ctx context.Context, ledger inventory.Ledger) error {
		return ledger.UpdateStock(ctx, &model.Stock{ProductID: "P", TotalStock: 1, ReservedStock: 2})
	})
	assert.ErrorIs(t, err, inventory.ErrLedgerInconsistent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMovements_Filters(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM inventory_movements WHERE product_id = $1 AND movement_type = $2`)).
		WithArgs("P", "reserve").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM inventory_movements WHERE product_id = $1 AND movement_type = $2 ORDER BY created_at DESC, id LIMIT 2 OFFSET 2`)).
		WithArgs("P", "reserve").
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "movement_type", "total_change", "reserved_change",
			"available_before", "available_after", "reference_type", "reference_id", "notes", "created_at"}).
			AddRow("m-3", "P", "reserve", 0, 1, 5, 4, "reservation", "r-1", "", time.Now()))

	items, total, err := repo.ListMovements(context.Background(), &dto.MovementFilters{
		ProductID:    "P",
		MovementType: "reserve",
		Page:         2,
		PageSize:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, "r-1", *items[0].ReferenceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"admin shutdown", fmt.Errorf("query: %w", &pgconn.PgError{Code: "57P01"}), true},
		{"bad conn", driver.ErrBadConn, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"plain", errors.New("nope"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.transient, errors.Is(got, inventory.ErrStorageUnavailable))
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.NoError(t, Classify(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_x"})

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "uq_x"))
	assert.False(t, IsUniqueViolation(err, "uq_y"))
	assert.False(t, IsUniqueViolation(errors.New("other"), ""))
}
