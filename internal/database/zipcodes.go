package database

import (
	"context"
	"database/sql"
	"errors"

	"cleanbook/internal/domain"
	"cleanbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

// FindServiceAreaZip returns the row for zip or domain.ErrNotFound.
func (db *DB) FindServiceAreaZip(ctx context.Context, zip string) (*models.ServiceAreaZip, error) {
	query, args, err := db.sb.Select("zip_code", "city", "state").
		From("service_area_zip_codes").
		Where(sq.Eq{"zip_code": zip}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, domain.StoreError("build zip query", err)
	}
	var z models.ServiceAreaZip
	err = db.QueryRowContext(ctx, query, args...).Scan(&z.ZipCode, &z.City, &z.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StoreError("find zip code", err)
	}
	return &z, nil
}

func (db *DB) ListServiceAreaZips(ctx context.Context) ([]models.ServiceAreaZip, error) {
	query, args, err := db.sb.Select("zip_code", "city", "state").
		From("service_area_zip_codes").
		OrderBy("zip_code").
		ToSql()
	if err != nil {
		return nil, domain.StoreError("build zip list", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("list zip codes", err)
	}
	defer rows.Close()

	var out []models.ServiceAreaZip
	for rows.Next() {
		var z models.ServiceAreaZip
		if err := rows.Scan(&z.ZipCode, &z.City, &z.State); err != nil {
			return nil, domain.StoreError("scan zip code", err)
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("list zip codes", err)
	}
	return out, nil
}

// UpsertServiceAreaZip adds zip or replaces its city and state.
func (db *DB) UpsertServiceAreaZip(ctx context.Context, z models.ServiceAreaZip) error {
	return db.upsertZip(ctx, db.DB, z)
}

func (db *DB) upsertZip(ctx context.Context, ex execer, z models.ServiceAreaZip) error {
	query, args, err := db.sb.Insert("service_area_zip_codes").
		Columns("zip_code", "city", "state").
		Values(z.ZipCode, z.City, z.State).
		Suffix("ON CONFLICT(zip_code) DO UPDATE SET city = excluded.city, state = excluded.state").
		ToSql()
	if err != nil {
		return domain.StoreError("build zip upsert", err)
	}
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return domain.StoreError("upsert zip code", err)
	}
	return nil
}

// DeleteServiceAreaZip removes zip; a missing row is domain.ErrNotFound.
func (db *DB) DeleteServiceAreaZip(ctx context.Context, zip string) error {
	query, args, err := db.sb.Delete("service_area_zip_codes").Where(sq.Eq{"zip_code": zip}).ToSql()
	if err != nil {
		return domain.StoreError("build zip delete", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.StoreError("delete zip code", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SeedServiceAreaZips upserts every row in one transaction.
func (db *DB) SeedServiceAreaZips(ctx context.Context, zips []models.ServiceAreaZip) error {
	if len(zips) == 0 {
		return nil
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, z := range zips {
			if err := db.upsertZip(ctx, tx, z); err != nil {
				return err
			}
		}
		return nil
	})
}
