package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	invrepo "github.com/fekuna/omnipos-reservation-service/internal/inventory/repository"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/jmoiron/sqlx"
)

const idempotencyKeyConstraint = "uq_reservations_idempotency_key"

const reservationColumns = `id, idempotency_key, state, expires_at, created_at, updated_at`

type PGRepository struct {
	DB *sqlx.DB
}

var _ reservation.Repository = (*PGRepository)(nil)

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx reservation.Tx) error) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return invrepo.Classify(err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{TxLedger: invrepo.NewTxLedger(tx), tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if invrepo.IsUniqueViolation(err, idempotencyKeyConstraint) {
			return reservation.ErrDuplicateIdempotencyKey
		}
		return invrepo.Classify(err)
	}
	return nil
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	return findOne(ctx, r.DB, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
}

func (r *PGRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.Reservation, error) {
	return findOne(ctx, r.DB, `SELECT `+reservationColumns+` FROM reservations WHERE idempotency_key = $1`, key)
}

func (r *PGRepository) ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids := []string{}
	query := `
        SELECT id FROM reservations
        WHERE state = $1 AND expires_at <= $2
        ORDER BY expires_at
        LIMIT $3
    `
	if err := r.DB.SelectContext(ctx, &ids, query, model.ReservationHeld, now, limit); err != nil {
		return nil, invrepo.Classify(err)
	}
	return ids, nil
}

// pgTx adds reservation rows to the stock ledger transaction.
type pgTx struct {
	*invrepo.TxLedger
	tx *sqlx.Tx
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, key string) (*model.Reservation, error) {
	return findOne(ctx, t.tx, `SELECT `+reservationColumns+` FROM reservations WHERE idempotency_key = $1`, key)
}

func (t *pgTx) LockReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return findOne(ctx, t.tx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) CreateReservation(ctx context.Context, r *model.Reservation) error {
	query := `
        INSERT INTO reservations (id, idempotency_key, state, expires_at, created_at, updated_at)
        VALUES (:id, :idempotency_key, :state, :expires_at, :created_at, :updated_at)
    `
	if _, err := t.tx.NamedExecContext(ctx, query, r); err != nil {
		if invrepo.IsUniqueViolation(err, idempotencyKeyConstraint) {
			return reservation.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to create reservation: %w", invrepo.Classify(err))
	}

	lineQuery := `
        INSERT INTO reservation_lines (reservation_id, line_no, product_id, quantity)
        VALUES (:reservation_id, :line_no, :product_id, :quantity)
    `
	if _, err := t.tx.NamedExecContext(ctx, lineQuery, r.Lines); err != nil {
		return fmt.Errorf("failed to create reservation lines: %w", invrepo.Classify(err))
	}
	return nil
}

func (t *pgTx) UpdateState(ctx context.Context, id string, state model.ReservationState, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE reservations SET state = $1, updated_at = $2 WHERE id = $3`, state, updatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update reservation state: %w", invrepo.Classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return reservation.ErrNotFound
	}
	return nil
}

func findOne(ctx context.Context, q sqlx.QueryerContext, query, arg string) (*model.Reservation, error) {
	var r model.Reservation
	if err := sqlx.GetContext(ctx, q, &r, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, invrepo.Classify(err)
	}

	lines := []model.ReservationLine{}
	lineQuery := `
        SELECT reservation_id, line_no, product_id, quantity
        FROM reservation_lines
        WHERE reservation_id = $1
        ORDER BY line_no
    `
	if err := sqlx.SelectContext(ctx, q, &lines, lineQuery, r.ID); err != nil {
		return nil, invrepo.Classify(err)
	}
	r.Lines = lines
	return &r, nil
}
