package database

import (
	"context"
	"database/sql"

	"cleanbook/internal/domain"
	"cleanbook/internal/models"
)

// SyncCatalog replaces the stored services and room types with the given
// set. Bookings keep their own price snapshots, so rewriting the catalog does
// not touch them.
func (db *DB) SyncCatalog(ctx context.Context, services []models.Service, rooms []models.RoomType) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM room_types"); err != nil {
			return domain.StoreError("clear room types", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM services"); err != nil {
			return domain.StoreError("clear services", err)
		}

		if len(services) > 0 {
			ins := db.sb.Insert("services").Columns("id", "name", "description", "icon", "fixed_price")
			for _, s := range services {
				ins = ins.Values(s.ID, s.Name, s.Description, s.Icon, s.FixedPrice)
			}
			query, args, err := ins.ToSql()
			if err != nil {
				return domain.StoreError("build services insert", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return domain.StoreError("insert services", err)
			}
		}

		if len(rooms) > 0 {
			ins := db.sb.Insert("room_types").Columns(
				"id", "service_id", "name", "description", "icon",
				"special_price", "price_per_sqft", "is_standard_room", "is_checkbox",
			)
			for _, r := range rooms {
				ins = ins.Values(r.ID, r.ServiceID, r.Name, r.Description, r.Icon,
					r.SpecialPrice, r.PricePerSqFt, r.IsStandardRoom, r.IsCheckbox)
			}
			query, args, err := ins.ToSql()
			if err != nil {
				return domain.StoreError("build room types insert", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return domain.StoreError("insert room types", err)
			}
		}
		return nil
	})
}

func (db *DB) ListServices(ctx context.Context) ([]models.Service, error) {
	query, args, err := db.sb.Select("id", "name", "description", "icon", "fixed_price").
		From("services").OrderBy("id").ToSql()
	if err != nil {
		return nil, domain.StoreError("build services query", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("list services", err)
	}
	defer rows.Close()

	var out []models.Service
	for rows.Next() {
		var (
			s     models.Service
			fixed nullMoney
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Icon, &fixed); err != nil {
			return nil, domain.StoreError("scan service", err)
		}
		s.FixedPrice = fixed.ptr()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("list services", err)
	}
	return out, nil
}

// ListRoomTypes returns room types ordered by service and name. An empty
// serviceID returns all of them.
func (db *DB) ListRoomTypes(ctx context.Context, serviceID string) ([]models.RoomType, error) {
	q := db.sb.Select(
		"id", "service_id", "name", "description", "icon",
		"special_price", "price_per_sqft", "is_standard_room", "is_checkbox",
	).From("room_types").OrderBy("service_id", "name")
	if serviceID != "" {
		q = q.Where("service_id = ?", serviceID)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, domain.StoreError("build room types query", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("list room types", err)
	}
	defer rows.Close()

	var out []models.RoomType
	for rows.Next() {
		var (
			r            models.RoomType
			special, per nullMoney
		)
		if err := rows.Scan(&r.ID, &r.ServiceID, &r.Name, &r.Description, &r.Icon,
			&special, &per, &r.IsStandardRoom, &r.IsCheckbox); err != nil {
			return nil, domain.StoreError("scan room type", err)
		}
		r.SpecialPrice = special.ptr()
		r.PricePerSqFt = per.ptr()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("list room types", err)
	}
	return out, nil
}

type nullMoney struct {
	m     models.Money
	valid bool
}

func (n *nullMoney) Scan(src any) error {
	if src == nil {
		n.valid = false
		return nil
	}
	n.valid = true
	return n.m.Scan(src)
}

func (n nullMoney) ptr() *models.Money {
	if !n.valid {
		return nil
	}
	m := n.m
	return &m
}
