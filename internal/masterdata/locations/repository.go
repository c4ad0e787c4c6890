package locations

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrovia-erp/agrovia-erp/internal/masterdata/shared"
	"github.com/agrovia-erp/agrovia-erp/internal/platform/db"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error)
	Get(ctx context.Context, id int64) (Location, error)
	Create(ctx context.Context, loc Location) (Location, error)
	Update(ctx context.Context, id int64, loc Location) error
	Delete(ctx context.Context, id int64) error
	InUse(ctx context.Context, id int64) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const selectLocation = `SELECT id, code, name, kind, is_active, created_at, updated_at FROM locations`

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	filters = filters.Normalize()
	where := ` WHERE 1=1`
	args := []any{}

	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR code ILIKE $` + n + `)`
	}
	if filters.Kind != "" {
		args = append(args, filters.Kind)
		where += ` AND kind = $` + strconv.Itoa(len(args))
	}
	if filters.IsActive != nil {
		args = append(args, *filters.IsActive)
		where += ` AND is_active = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM locations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := selectLocation + where + ` ORDER BY name ASC`
	args = append(args, filters.Limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filters.Offset())
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, 0, err
		}
		locations = append(locations, loc)
	}
	return locations, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Location, error) {
	loc, err := scanLocation(r.db.QueryRow(ctx, selectLocation+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, shared.ErrNotFound
	}
	return loc, err
}

func (r *repository) Create(ctx context.Context, loc Location) (Location, error) {
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx, `INSERT INTO locations (code, name, kind, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`,
		loc.Code, loc.Name, string(loc.Kind), loc.IsActive, now).Scan(&loc.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Location{}, shared.ErrDuplicate
		}
		return Location{}, err
	}
	loc.CreatedAt = now
	loc.UpdatedAt = now
	return loc, nil
}

func (r *repository) Update(ctx context.Context, id int64, loc Location) error {
	tag, err := r.db.Exec(ctx, `UPDATE locations SET code=$1, name=$2, kind=$3, is_active=$4, updated_at=$5 WHERE id=$6`,
		loc.Code, loc.Name, string(loc.Kind), loc.IsActive, time.Now().UTC(), id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return shared.ErrDuplicate
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM locations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// InUse reports whether any stock record references the location.
func (r *repository) InUse(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_balances WHERE location_id = $1)
OR EXISTS (SELECT 1 FROM stock_ledger WHERE location_id = $1)`, id).Scan(&exists)
	return exists, err
}

func scanLocation(row pgx.Row) (Location, error) {
	var loc Location
	var kind string
	err := row.Scan(&loc.ID, &loc.Code, &loc.Name, &kind, &loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt)
	loc.Kind = Kind(kind)
	return loc, err
}
