package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	"github.com/fekuna/omnipos-reservation-service/internal/inventory/dto"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) GetStock(ctx context.Context, productID string) (*model.Stock, error) {
	var s model.Stock
	query := `SELECT product_id, total_stock, reserved_stock, updated_at FROM product_stock WHERE product_id = $1`
	err := r.DB.GetContext(ctx, &s, query, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, Classify(err)
	}
	return &s, nil
}

func (r *PGRepository) ListMovements(ctx context.Context, f *dto.MovementFilters) ([]model.InventoryMovement, int, error) {
	conditions := []string{}
	args := []interface{}{}

	if f.ProductID != "" {
		args = append(args, f.ProductID)
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if f.MovementType != "" {
		args = append(args, f.MovementType)
		conditions = append(conditions, fmt.Sprintf("movement_type = $%d", len(args)))
	}
	if f.StartDate != nil {
		args = append(args, *f.StartDate)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.EndDate != nil {
		args = append(args, *f.EndDate)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int
	if err := r.DB.GetContext(ctx, &count, "SELECT count(*) FROM inventory_movements"+whereClause, args...); err != nil {
		return nil, 0, Classify(err)
	}

	query := "SELECT * FROM inventory_movements" + whereClause + " ORDER BY created_at DESC, id"
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.PageSize, (page-1)*f.PageSize)
	}

	items := []model.InventoryMovement{}
	if err := r.DB.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, Classify(err)
	}
	return items, count, nil
}

func (r *PGRepository) WithinLedger(ctx context.Context, fn func(ctx context.Context, ledger inventory.Ledger) error) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return Classify(err)
	}
	defer tx.Rollback()

	if err := fn(ctx, NewTxLedger(tx)); err != nil {
		return err
	}
	return Classify(tx.Commit())
}

// TxLedger implements inventory.Ledger on an open transaction. The reservation
// repository embeds it so stock and reservation rows share one atomic unit.
type TxLedger struct {
	tx *sqlx.Tx
}

func NewTxLedger(tx *sqlx.Tx) *TxLedger {
	return &TxLedger{tx: tx}
}

func (l *TxLedger) LockStock(ctx context.Context, productIDs []string) (map[string]*model.Stock, error) {
	rows := make(map[string]*model.Stock, len(productIDs))
	if len(productIDs) == 0 {
		return rows, nil
	}

	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)

	// ORDER BY makes Postgres take the row locks in product_id order.
	query, args, err := sqlx.In(`
        SELECT product_id, total_stock, reserved_stock, updated_at
        FROM product_stock
        WHERE product_id IN (?)
        ORDER BY product_id
        FOR UPDATE
    `, ids)
	if err != nil {
		return nil, err
	}
	query = l.tx.Rebind(query)

	var items []model.Stock
	if err := l.tx.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, Classify(err)
	}
	for i := range items {
		rows[items[i].ProductID] = &items[i]
	}
	return rows, nil
}

func (l *TxLedger) UpdateStock(ctx context.Context, s *model.Stock) error {
	if !s.Valid() {
		return fmt.Errorf("%w: product %s total=%d reserved=%d",
			inventory.ErrLedgerInconsistent, s.ProductID, s.TotalStock, s.ReservedStock)
	}
	query := `
        INSERT INTO product_stock (product_id, total_stock, reserved_stock, updated_at)
        VALUES (:product_id, :total_stock, :reserved_stock, :updated_at)
        ON CONFLICT (product_id)
        DO UPDATE SET
            total_stock = EXCLUDED.total_stock,
            reserved_stock = EXCLUDED.reserved_stock,
            updated_at = EXCLUDED.updated_at
    `
	if _, err := l.tx.NamedExecContext(ctx, query, s); err != nil {
		return fmt.Errorf("failed to update stock: %w", Classify(err))
	}
	return nil
}

func (l *TxLedger) DeleteStock(ctx context.Context, productID string) error {
	if _, err := l.tx.ExecContext(ctx, "DELETE FROM product_stock WHERE product_id = $1", productID); err != nil {
		return fmt.Errorf("failed to delete stock: %w", Classify(err))
	}
	return nil
}

func (l *TxLedger) LogMovement(ctx context.Context, m *model.InventoryMovement) error {
	query := `
        INSERT INTO inventory_movements (
            id, product_id, movement_type, total_change, reserved_change,
            available_before, available_after, reference_type, reference_id,
            notes, created_at
        )
        VALUES (
            :id, :product_id, :movement_type, :total_change, :reserved_change,
            :available_before, :available_after, :reference_type, :reference_id,
            :notes, :created_at
        )
    `
	if _, err := l.tx.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("failed to log movement: %w", Classify(err))
	}
	return nil
}

// Classify marks transient infrastructure faults with inventory.ErrStorageUnavailable
// and passes every other error through unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, inventory.ErrStorageUnavailable) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %w", inventory.ErrStorageUnavailable, err)
	}
	return err
}

func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"57P01", // admin_shutdown
			"57P03": // cannot_connect_now
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUniqueViolation reports a unique-constraint failure, optionally on a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
