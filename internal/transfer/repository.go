package transfer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrovia-erp/agrovia-erp/internal/platform/db"
	"github.com/agrovia-erp/agrovia-erp/internal/stock"
)

// Repository persists transfer requests in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. Stock
// returns a movement repository bound to the same transaction so completion
// legs and the status flip commit as one unit.
type TxRepository interface {
	InsertRequest(ctx context.Context, req Request) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	GetRequestForUpdate(ctx context.Context, id int64) (Request, error)
	SetApproval(ctx context.Context, id int64, status Status, approverID int64, at time.Time) error
	SetCompleted(ctx context.Context, id int64, notes string, at time.Time) error
	UpdatePending(ctx context.Context, id int64, requestDate time.Time, notes string, at time.Time) error
	ReplaceLines(ctx context.Context, requestID int64, lines []LineInput) error
	DeleteRequest(ctx context.Context, id int64) error
	Stock() stock.TxRepository
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction with
// bounded retry on serialization conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfer: repository not initialised")
	}
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetRequest loads one request with its lines.
func (r *Repository) GetRequest(ctx context.Context, id int64) (Request, error) {
	row := r.pool.QueryRow(ctx, selectRequest+` WHERE id=$1`, id)
	req, err := scanRequest(row)
	if err != nil {
		return Request{}, err
	}
	req.Lines, err = listLines(ctx, r.pool, id)
	return req, err
}

// ListRequests returns requests filtered by status, newest first.
func (r *Repository) ListRequests(ctx context.Context, status Status, limit, offset int) ([]Request, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectRequest
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + itoa(limit) + ` OFFSET ` + itoa(offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range requests {
		requests[i].Lines, err = listLines(ctx, r.pool, requests[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return requests, nil
}

const selectRequest = `SELECT id, from_location_id, to_location_id, status, requested_by, approved_by, request_date, notes, created_at, updated_at
FROM transfer_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var req Request
	var status string
	err := row.Scan(&req.ID, &req.FromLocationID, &req.ToLocationID, &status, &req.RequestedBy,
		&req.ApprovedBy, &req.RequestDate, &req.Notes, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	req.Status = Status(status)
	return req, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLines(ctx context.Context, q querier, requestID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, request_id, item_id, qty FROM transfer_lines WHERE request_id=$1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ItemID, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepository) InsertRequest(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transfer_requests (from_location_id, to_location_id, status, requested_by, request_date, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		req.FromLocationID, req.ToLocationID, string(req.Status), req.RequestedBy, req.RequestDate, req.Notes, req.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transfer_lines (request_id, item_id, qty) VALUES ($1, $2, $3) RETURNING id`,
		line.RequestID, line.ItemID, line.Qty).Scan(&id)
	return id, err
}

func (r *txRepository) GetRequestForUpdate(ctx context.Context, id int64) (Request, error) {
	row := r.tx.QueryRow(ctx, selectRequest+` WHERE id=$1 FOR UPDATE`, id)
	req, err := scanRequest(row)
	if err != nil {
		return Request{}, err
	}
	req.Lines, err = listLines(ctx, r.tx, id)
	return req, err
}

func (r *txRepository) SetApproval(ctx context.Context, id int64, status Status, approverID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_requests SET status=$2, approved_by=$3, updated_at=$4 WHERE id=$1`,
		id, string(status), approverID, at)
	return err
}

func (r *txRepository) SetCompleted(ctx context.Context, id int64, notes string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_requests SET status=$2, notes=COALESCE(NULLIF($3,''), notes), updated_at=$4 WHERE id=$1`,
		id, string(StatusCompleted), notes, at)
	return err
}

func (r *txRepository) UpdatePending(ctx context.Context, id int64, requestDate time.Time, notes string, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_requests SET request_date=$2, notes=$3, updated_at=$4 WHERE id=$1`,
		id, requestDate, notes, at)
	return err
}

func (r *txRepository) ReplaceLines(ctx context.Context, requestID int64, lines []LineInput) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM transfer_lines WHERE request_id=$1`, requestID); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO transfer_lines (request_id, item_id, qty) VALUES ($1, $2, $3)`,
			requestID, line.ItemID, line.Qty); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) DeleteRequest(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM transfer_lines WHERE request_id=$1`, id); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM transfer_requests WHERE id=$1`, id)
	return err
}

func (r *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(r.tx)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
