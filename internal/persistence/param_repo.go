package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mavgcs/internal/mavlink"
)

// ParamRecord is one cached parameter value as last echoed by the flight
// controller. Names are stored in their normalized wire form.
type ParamRecord struct {
	Name      string
	Value     float32
	Type      mavlink.ParamType
	Index     uint16
	Count     uint16
	UpdatedAt time.Time
}

type ParamRepo struct {
	db *sql.DB
}

func NewParamRepo(db *sql.DB) *ParamRepo {
	return &ParamRepo{db: db}
}

func (r *ParamRepo) Upsert(ctx context.Context, rec ParamRecord) error {
	rec.Name = mavlink.NormalizeParamName(rec.Name)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO params(name, value, type, idx, count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			type = excluded.type,
			idx = excluded.idx,
			count = excluded.count,
			updated_at = excluded.updated_at
	`, rec.Name, float64(rec.Value), int64(rec.Type), int64(rec.Index), int64(rec.Count), toUnixMillis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert param: %w", err)
	}
	return nil
}

func (r *ParamRepo) Get(ctx context.Context, name string) (ParamRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, value, type, idx, count, updated_at
		FROM params
		WHERE name = ?
	`, mavlink.NormalizeParamName(name))

	rec, err := scanParam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ParamRecord{}, false, nil
	}
	if err != nil {
		return ParamRecord{}, false, fmt.Errorf("get param: %w", err)
	}
	return rec, true, nil
}

func (r *ParamRepo) List(ctx context.Context) ([]ParamRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, value, type, idx, count, updated_at
		FROM params
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list params: %w", err)
	}
	defer rows.Close()

	var out []ParamRecord
	for rows.Next() {
		rec, err := scanParam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan param: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate params: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParam(row rowScanner) (ParamRecord, error) {
	var (
		rec       ParamRecord
		value     float64
		paramType int64
		index     int64
		count     int64
		updatedMs int64
	)
	if err := row.Scan(&rec.Name, &value, &paramType, &index, &count, &updatedMs); err != nil {
		return ParamRecord{}, err
	}
	rec.Value = float32(value)
	rec.Type = mavlink.ParamType(paramType)
	rec.Index = uint16(index)
	rec.Count = uint16(count)
	rec.UpdatedAt = fromUnixMillis(updatedMs)
	return rec, nil
}

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
