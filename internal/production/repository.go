package production

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrovia-erp/agrovia-erp/internal/platform/db"
	"github.com/agrovia-erp/agrovia-erp/internal/stock"
)

// Repository persists production runs in PostgreSQL. Legs are stored as JSONB
// so an undo replays the exact quantities and costs that were committed.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations for the service. Stock binds
// a movement repository to the same transaction so every leg of a run commits
// with the run row.
type TxRepository interface {
	InsertRun(ctx context.Context, run Run) (int64, error)
	UpdateRunResults(ctx context.Context, run Run) error
	GetRunForUpdate(ctx context.Context, id int64) (Run, error)
	MarkUndone(ctx context.Context, id int64, reason string, at time.Time) error
	Stock() stock.TxRepository
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction with
// bounded retry on serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("production: repository not initialised")
	}
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const selectRun = `SELECT id, name, location_id, target_qty, inputs, outputs, total_input_cost, cost_per_unit, note, is_undone, undo_reason, undone_at, created_by, created_at
FROM production_runs`

// GetRun loads one run.
func (r *Repository) GetRun(ctx context.Context, id int64) (Run, error) {
	return scanRun(r.pool.QueryRow(ctx, selectRun+` WHERE id=$1`, id))
}

// ListRuns returns runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, locationID int64, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectRun
	args := []any{}
	if locationID != 0 {
		query += ` WHERE location_id=$1`
		args = append(args, locationID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var inputs, outputs []byte
	err := row.Scan(&run.ID, &run.Name, &run.LocationID, &run.TargetQty, &inputs, &outputs,
		&run.TotalInputCost, &run.CostPerUnit, &run.Note, &run.IsUndone, &run.UndoReason,
		&run.UndoneAt, &run.CreatedBy, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	if err := json.Unmarshal(inputs, &run.Inputs); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal(outputs, &run.Outputs); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (r *txRepository) InsertRun(ctx context.Context, run Run) (int64, error) {
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return 0, err
	}
	outputs, err := json.Marshal(run.Outputs)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO production_runs (name, location_id, target_qty, inputs, outputs, total_input_cost, cost_per_unit, note, is_undone, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10) RETURNING id`,
		run.Name, run.LocationID, run.TargetQty, inputs, outputs, run.TotalInputCost,
		run.CostPerUnit, run.Note, run.CreatedBy, run.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateRunResults(ctx context.Context, run Run) error {
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return err
	}
	outputs, err := json.Marshal(run.Outputs)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE production_runs SET inputs=$2, outputs=$3, total_input_cost=$4, cost_per_unit=$5 WHERE id=$1`,
		run.ID, inputs, outputs, run.TotalInputCost, run.CostPerUnit)
	return err
}

func (r *txRepository) GetRunForUpdate(ctx context.Context, id int64) (Run, error) {
	return scanRun(r.tx.QueryRow(ctx, selectRun+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) MarkUndone(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE production_runs SET is_undone=TRUE, undo_reason=$2, undone_at=$3 WHERE id=$1`,
		id, reason, at)
	return err
}

func (r *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(r.tx)
}
