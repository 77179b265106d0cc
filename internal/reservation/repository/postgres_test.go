package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	resColumns  = []string{"id", "idempotency_key", "state", "expires_at", "created_at", "updated_at"}
	lineColumns = []string{"reservation_id", "line_no", "product_id", "quantity"}
)

func newPGMock(t *testing.T) (*PGRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGRepository(sqlx.NewDb(db, "pgx")), mock
}

func TestPG_FindByIDLoadsLines(t *testing.T) {
	repo, mock := newPGMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM reservations WHERE id = $1`)).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(resColumns).AddRow("r-1", "k1", "HELD", now.Add(time.Minute), now, now))
	mock.ExpectQuery(`FROM reservation_lines\s+WHERE reservation_id = \$1\s+ORDER BY line_no`).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(lineColumns).AddRow("r-1", 1, "B", 2).AddRow("r-1", 2, "A", 1))

	r, err := repo.FindByID(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationHeld, r.State)
	assert.Equal(t, []string{"B", "A"}, r.ProductIDs())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_FindByIdempotencyKeyMissing(t *testing.T) {
	repo, mock := newPGMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM reservations WHERE idempotency_key = $1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(resColumns))

	r, err := repo.FindByIdempotencyKey(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_ListExpiredIDs(t *testing.T) {
	repo, mock := newPGMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id FROM reservations\s+WHERE state = \$1 AND expires_at <= \$2\s+ORDER BY expires_at\s+LIMIT \$3`).
		WithArgs(model.ReservationHeld, now, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-1").AddRow("r-2"))

	ids, err := repo.ListExpiredIDs(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"r-1", "r-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_CreateReservation(t *testing.T) {
	repo, mock := newPGMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO reservations`).
		WithArgs("r-1", "k1", model.ReservationHeld, now.Add(time.Minute), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO reservation_lines`).
		WithArgs("r-1", 1, "A", int64(2), "r-1", 2, "B", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		return tx.CreateReservation(ctx, &model.Reservation{
			BaseModel:      model.BaseModel{ID: "r-1", CreatedAt: now, UpdatedAt: now},
			IdempotencyKey: "k1",
			State:          model.ReservationHeld,
			ExpiresAt:      now.Add(time.Minute),
			Lines: []model.ReservationLine{
				{ReservationID: "r-1", LineNo: 1, ProductID: "A", Quantity: 2},
				{ReservationID: "r-1", LineNo: 2, ProductID: "B", Quantity: 1},
			},
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_CreateReservationDuplicateKey(t *testing.T) {
	repo, mock := newPGMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO reservations`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: idempotencyKeyConstraint})
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		return tx.CreateReservation(ctx, &model.Reservation{
			BaseModel:      model.BaseModel{ID: "r-1", CreatedAt: now, UpdatedAt: now},
			IdempotencyKey: "k1",
			State:          model.ReservationHeld,
			ExpiresAt:      now,
			Lines:          []model.ReservationLine{{ReservationID: "r-1", LineNo: 1, ProductID: "A", Quantity: 1}},
		})
	})
	assert.ErrorIs(t, err, reservation.ErrDuplicateIdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_LockReservationAndUpdateState(t *testing.T) {
	repo, mock := newPGMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM reservations WHERE id = $1 FOR UPDATE`)).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(resColumns).AddRow("r-1", "k1", "HELD", now, now, now))
	mock.ExpectQuery(`FROM reservation_lines`).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(lineColumns).AddRow("r-1", 1, "A", 2))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE reservations SET state = $1, updated_at = $2 WHERE id = $3`)).
		WithArgs(model.ReservationCancelled, now, "r-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		r, err := tx.LockReservation(ctx, "r-1")
		if err != nil {
			return err
		}
		require.NotNil(t, r)
		require.Len(t, r.Lines, 1)
		return tx.UpdateState(ctx, r.ID, model.ReservationCancelled, now)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_CommitFailureIsClassified(t *testing.T) {
	repo, mock := newPGMock(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})

	err := repo.WithinTx(context.Background(), func(context.Context, reservation.Tx) error { return nil })
	assert.ErrorIs(t, err, reservation.ErrStorageUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
