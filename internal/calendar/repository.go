package calendar

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/platform/db"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// PGRepository stores holidays in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// HolidaysOn returns entries on date for the location or all locations.
func (r *PGRepository) HolidaysOn(ctx context.Context, location string, date time.Time) ([]Holiday, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, holiday_date, name, kind, location FROM holidays
WHERE holiday_date = $1 AND (location = '' OR location = $2) ORDER BY id`, date, location)
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	return collectHolidays(rows)
}

// ListRange returns entries in [from, to].
func (r *PGRepository) ListRange(ctx context.Context, from, to time.Time) ([]Holiday, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, holiday_date, name, kind, location FROM holidays
WHERE holiday_date BETWEEN $1 AND $2 ORDER BY holiday_date, id`, from, to)
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	return collectHolidays(rows)
}

// Upsert writes all entries in one transaction.
func (r *PGRepository) Upsert(ctx context.Context, holidays []Holiday) error {
	return shared.WrapStoreError(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, h := range holidays {
			batch.Queue(`INSERT INTO holidays (id, holiday_date, name, kind, location) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET holiday_date = EXCLUDED.holiday_date, name = EXCLUDED.name, kind = EXCLUDED.kind, location = EXCLUDED.location`,
				h.ID, h.Date, h.Name, string(h.Kind), h.Location)
		}
		return tx.SendBatch(ctx, batch).Close()
	}))
}

func collectHolidays(rows pgx.Rows) ([]Holiday, error) {
	defer rows.Close()
	var out []Holiday
	for rows.Next() {
		var h Holiday
		var kind string
		if err := rows.Scan(&h.ID, &h.Date, &h.Name, &kind, &h.Location); err != nil {
			return nil, err
		}
		h.Kind = attendance.HolidayKind(kind)
		h.Date = shared.Day(h.Date)
		out = append(out, h)
	}
	return out, shared.WrapStoreError(rows.Err())
}
