package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cleanbook/internal/domain"
	"cleanbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var customerColumns = []string{
	"id", "email", "first_name", "last_name", "phone", "address", "unit_number",
	"city", "state", "zip_code", "property_type", "floors", "floor_level",
	"created_at", "updated_at",
}

// UpsertCustomer inserts a customer or updates the mutable fields of the
// customer with the same email. c.ID is set on return.
func (db *DB) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	return db.upsertCustomer(ctx, db.DB, c)
}

func (db *DB) upsertCustomer(ctx context.Context, ex execer, c *models.Customer) error {
	now := time.Now().UTC()
	var floors any
	if c.Floors != nil {
		floors = *c.Floors
	}

	query, args, err := db.sb.Insert("customers").
		Columns(
			"email", "first_name", "last_name", "phone", "address", "unit_number",
			"city", "state", "zip_code", "property_type", "floors", "floor_level",
			"created_at", "updated_at",
		).
		Values(
			c.Email, c.FirstName, c.LastName, c.Phone, c.Address, c.UnitNumber,
			c.City, c.State, c.ZipCode, c.PropertyType, floors, c.FloorLevel,
			now, now,
		).
		Suffix(`ON CONFLICT(email) DO UPDATE SET
            first_name = excluded.first_name,
            last_name = excluded.last_name,
            phone = excluded.phone,
            address = excluded.address,
            unit_number = excluded.unit_number,
            city = excluded.city,
            state = excluded.state,
            zip_code = excluded.zip_code,
            property_type = excluded.property_type,
            floors = excluded.floors,
            floor_level = excluded.floor_level,
            updated_at = excluded.updated_at
        RETURNING id`).
		ToSql()
	if err != nil {
		return domain.StoreError("build customer upsert", err)
	}

	if err := ex.QueryRowContext(ctx, query, args...).Scan(&c.ID); err != nil {
		return domain.StoreError("upsert customer", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return nil
}

func (db *DB) GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	return db.queryCustomer(ctx, sq.Eq{"email": email})
}

func (db *DB) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	return db.queryCustomer(ctx, sq.Eq{"id": id})
}

func (db *DB) queryCustomer(ctx context.Context, where sq.Eq) (*models.Customer, error) {
	query, args, err := db.sb.Select(customerColumns...).From("customers").Where(where).ToSql()
	if err != nil {
		return nil, domain.StoreError("build customer query", err)
	}
	c, err := scanCustomer(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StoreError("get customer", err)
	}
	return c, nil
}

// ListCustomers returns customers ordered by last update, newest first.
func (db *DB) ListCustomers(ctx context.Context, limit int) ([]*models.Customer, error) {
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	query, args, err := db.sb.Select(customerColumns...).From("customers").
		OrderBy("updated_at DESC", "id DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, domain.StoreError("build customers query", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("list customers", err)
	}
	defer rows.Close()

	var out []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, domain.StoreError("scan customer", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("list customers", err)
	}
	return out, nil
}

func scanCustomer(s rowScanner) (*models.Customer, error) {
	var (
		c      models.Customer
		floors sql.NullInt64
	)
	err := s.Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Phone, &c.Address, &c.UnitNumber,
		&c.City, &c.State, &c.ZipCode, &c.PropertyType, &floors, &c.FloorLevel,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if floors.Valid {
		n := int(floors.Int64)
		c.Floors = &n
	}
	return &c, nil
}
