package stock

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrovia-erp/agrovia-erp/internal/platform/db"
)

// Repository persists balances and ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the movement
// service. Implementations must scope every call to a single transaction.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, itemID, locationID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertEntry(ctx context.Context, entry LedgerEntry) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("stock: balance not found")

// NewTxRepository binds a TxRepository to an existing transaction so that
// multi-leg callers (transfers, production runs) can post movements inside
// their own transactional scope.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction,
// retrying bounded times on serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock: repository not initialised")
	}
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetBalance loads the current balance for one item/location pair.
func (r *Repository) GetBalance(ctx context.Context, itemID, locationID int64) (Balance, error) {
	row := r.pool.QueryRow(ctx, `SELECT item_id, location_id, qty, avg_cost, updated_at
FROM stock_balances WHERE item_id=$1 AND location_id=$2`, itemID, locationID)
	return scanBalance(row, itemID, locationID)
}

// ListLedger returns ledger entries for the filter, ordered by posted time.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	order := "ASC"
	if filter.Descending {
		order = "DESC"
	}
	query := `SELECT id, item_id, location_id, kind, qty, unit_cost, ref_type, ref_id, note, created_by, posted_at
FROM stock_ledger WHERE item_id=$1 AND location_id=$2`
	args := []any{filter.ItemID, filter.LocationID}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += ` AND posted_at >= $` + itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += ` AND posted_at <= $` + itoa(len(args))
	}
	args = append(args, limit, filter.Offset)
	query += ` ORDER BY posted_at ` + order + `, id ` + order +
		` LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListForReplay returns the complete ledger history for one pair in posted
// order, used to rebuild balances by folding the costing engine.
func (r *Repository) ListForReplay(ctx context.Context, itemID, locationID int64) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, location_id, kind, qty, unit_cost, ref_type, ref_id, note, created_by, posted_at
FROM stock_ledger WHERE item_id=$1 AND location_id=$2 ORDER BY posted_at ASC, id ASC`, itemID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// BalanceKey identifies one tracked item/location pair.
type BalanceKey struct {
	ItemID     int64
	LocationID int64
}

// ListBalanceKeys returns every tracked pair, for integrity scans.
func (r *Repository) ListBalanceKeys(ctx context.Context) ([]BalanceKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, location_id FROM stock_balances ORDER BY item_id, location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []BalanceKey
	for rows.Next() {
		var k BalanceKey
		if err := rows.Scan(&k.ItemID, &k.LocationID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, itemID, locationID int64) (Balance, error) {
	row := r.tx.QueryRow(ctx, `SELECT item_id, location_id, qty, avg_cost, updated_at
FROM stock_balances WHERE item_id=$1 AND location_id=$2 FOR UPDATE`, itemID, locationID)
	return scanBalance(row, itemID, locationID)
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (item_id, location_id, qty, avg_cost, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (item_id, location_id)
DO UPDATE SET qty = EXCLUDED.qty, avg_cost = EXCLUDED.avg_cost, updated_at = EXCLUDED.updated_at`,
		balance.ItemID, balance.LocationID, balance.Qty, balance.AvgCost, balance.UpdatedAt)
	return err
}

func (r *txRepository) InsertEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (item_id, location_id, kind, qty, unit_cost, ref_type, ref_id, note, created_by, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		entry.ItemID, entry.LocationID, string(entry.Kind), entry.Qty, entry.UnitCost,
		entry.RefType, entry.RefID, entry.Note, entry.CreatedBy, entry.PostedAt).Scan(&id)
	return id, err
}

func scanBalance(row pgx.Row, itemID, locationID int64) (Balance, error) {
	var b Balance
	var updatedAt time.Time
	err := row.Scan(&b.ItemID, &b.LocationID, &b.Qty, &b.AvgCost, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{ItemID: itemID, LocationID: locationID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	b.UpdatedAt = updatedAt
	return b, nil
}

func scanEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.LocationID, &kind, &e.Qty, &e.UnitCost,
			&e.RefType, &e.RefID, &e.Note, &e.CreatedBy, &e.PostedAt); err != nil {
			return nil, err
		}
		e.Kind = MovementKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
