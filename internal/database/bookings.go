package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/domain"
	"cleanbook/internal/models"
	"cleanbook/internal/scheduling"

	sq "github.com/Masterminds/squirrel"
)

var bookingColumns = []string{
	"b.id", "b.customer_id", "b.booking_date", "b.booking_time", "b.day_of_week",
	"b.total_price", "b.status", "b.zip_code", "b.special_instructions",
	"b.confirmation_code", "b.created_at", "b.updated_at",
	"c.id", "c.email", "c.first_name", "c.last_name", "c.phone", "c.address",
	"c.unit_number", "c.city", "c.state", "c.zip_code", "c.property_type",
	"c.floors", "c.floor_level", "c.created_at", "c.updated_at",
}

// CreateBooking stores b, its customer and its line items in one
// transaction. The day's capacity is claimed with a conditional counter
// update, so two requests racing for the last place cannot both succeed.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking, capacity int) error {
	if b.Customer == nil {
		return domain.Invalid("customer", "is required")
	}
	now := time.Now().UTC()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := db.upsertCustomer(ctx, tx, b.Customer); err != nil {
			return err
		}
		b.CustomerID = b.Customer.ID

		if err := db.claimDay(ctx, tx, b.Date, capacity); err != nil {
			return err
		}

		query, args, err := db.sb.Insert("bookings").
			Columns(
				"customer_id", "booking_date", "booking_time", "day_of_week", "total_price",
				"status", "zip_code", "special_instructions", "confirmation_code",
				"created_at", "updated_at",
			).
			Values(
				b.CustomerID, b.Date, b.TimeSlot, b.DayOfWeek, b.TotalPrice,
				b.Status, b.ZipCode, b.SpecialInstructions, b.ConfirmationCode,
				now, now,
			).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return domain.StoreError("build booking insert", err)
		}
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&b.ID); err != nil {
			return classifyBookingWrite(err, "insert booking")
		}

		return db.insertLines(ctx, tx, b)
	})
	if err != nil {
		b.ID = 0
		return err
	}

	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (db *DB) insertLines(ctx context.Context, tx *sql.Tx, b *models.Booking) error {
	if len(b.Services) > 0 {
		ins := db.sb.Insert("booking_services").Columns("booking_id", "service_id", "name", "quantity", "price")
		for _, l := range b.Services {
			ins = ins.Values(b.ID, l.ServiceID, l.Name, l.Quantity, l.Price)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return domain.StoreError("build booking services insert", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return domain.StoreError("insert booking services", err)
		}
	}
	if len(b.Rooms) > 0 {
		ins := db.sb.Insert("booking_rooms").Columns("booking_id", "service_id", "room_type", "name", "quantity", "price")
		for _, l := range b.Rooms {
			ins = ins.Values(b.ID, l.ServiceID, l.RoomType, l.Name, l.Quantity, l.Price)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return domain.StoreError("build booking rooms insert", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return domain.StoreError("insert booking rooms", err)
		}
	}
	for i := range b.Services {
		b.Services[i].BookingID = b.ID
	}
	for i := range b.Rooms {
		b.Rooms[i].BookingID = b.ID
	}
	return nil
}

// claimDay takes one place on date or fails with scheduling.ErrDayFull. The
// counter row is seeded from the bookings table the first time a date is
// seen.
func (db *DB) claimDay(ctx context.Context, tx *sql.Tx, date calendar.Date, capacity int) error {
	param := "?"
	if db.driver == DriverPostgres {
		param = "?::date"
	}
	seed := db.rebind(`INSERT INTO booking_days (booking_date, booked)
        SELECT ` + param + `, COUNT(*) FROM bookings WHERE booking_date = ? AND status <> 'cancelled'
        ON CONFLICT (booking_date) DO NOTHING`)
	if _, err := tx.ExecContext(ctx, seed, date, date); err != nil {
		return domain.StoreError("seed booking day", err)
	}

	query, args, err := db.sb.Update("booking_days").
		Set("booked", sq.Expr("booked + 1")).
		Where(sq.Eq{"booking_date": date}).
		Where(sq.Lt{"booked": capacity}).
		ToSql()
	if err != nil {
		return domain.StoreError("build claim query", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.StoreError("claim booking day", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scheduling.ErrDayFull
	}
	return nil
}

func (db *DB) releaseDay(ctx context.Context, tx *sql.Tx, date calendar.Date) error {
	query, args, err := db.sb.Update("booking_days").
		Set("booked", sq.Expr("booked - 1")).
		Where(sq.Eq{"booking_date": date}).
		Where(sq.Gt{"booked": 0}).
		ToSql()
	if err != nil {
		return domain.StoreError("build release query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return domain.StoreError("release booking day", err)
	}
	return nil
}

// RescheduleBooking moves a pending booking to date/slot. Capacity moves
// with it: the new day is claimed before the old one is released.
func (db *DB) RescheduleBooking(ctx context.Context, id int64, date calendar.Date, slot, dayOfWeek string, capacity int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := db.forUpdate(db.sb.Select("booking_date", "status").From("bookings").Where(sq.Eq{"id": id})).ToSql()
		if err != nil {
			return domain.StoreError("build booking lock", err)
		}
		var (
			current calendar.Date
			status  string
		)
		switch err := tx.QueryRowContext(ctx, query, args...).Scan(&current, &status); {
		case errors.Is(err, sql.ErrNoRows):
			return domain.ErrNotFound
		case err != nil:
			return domain.StoreError("lock booking", err)
		}
		if status != models.StatusPending {
			return domain.FinalizedError(status)
		}

		if current != date {
			if err := db.claimDay(ctx, tx, date, capacity); err != nil {
				return err
			}
			if err := db.releaseDay(ctx, tx, current); err != nil {
				return err
			}
		}

		query, args, err = db.sb.Update("bookings").
			Set("booking_date", date).
			Set("booking_time", slot).
			Set("day_of_week", dayOfWeek).
			Set("updated_at", time.Now().UTC()).
			Where(sq.Eq{"id": id, "status": models.StatusPending}).
			ToSql()
		if err != nil {
			return domain.StoreError("build reschedule", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return classifyBookingWrite(err, "reschedule booking")
		}
		return nil
	})
}

// UpdateBookingStatus moves a pending booking to a terminal status. The
// update only matches pending rows, so a second transition fails with
// domain.ErrFinalized and leaves the stored status unchanged. Cancelling
// returns the place to the day's capacity.
func (db *DB) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	if status != models.StatusCompleted && status != models.StatusCancelled {
		return domain.ErrInvalidStatus
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := db.sb.Update("bookings").
			Set("status", status).
			Set("updated_at", time.Now().UTC()).
			Where(sq.Eq{"id": id, "status": models.StatusPending}).
			Suffix("RETURNING booking_date").
			ToSql()
		if err != nil {
			return domain.StoreError("build status update", err)
		}

		var date calendar.Date
		err = tx.QueryRowContext(ctx, query, args...).Scan(&date)
		if errors.Is(err, sql.ErrNoRows) {
			return db.explainNoTransition(ctx, tx, id)
		}
		if err != nil {
			return domain.StoreError("update booking status", err)
		}

		if status == models.StatusCancelled {
			return db.releaseDay(ctx, tx, date)
		}
		return nil
	})
}

func (db *DB) explainNoTransition(ctx context.Context, tx *sql.Tx, id int64) error {
	query, args, err := db.sb.Select("status").From("bookings").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.StoreError("build status query", err)
	}
	var current string
	switch err := tx.QueryRowContext(ctx, query, args...).Scan(&current); {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound
	case err != nil:
		return domain.StoreError("get booking status", err)
	}
	return domain.FinalizedError(current)
}

// GetBooking returns the booking with its customer and line items.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return db.getBookingWhere(ctx, sq.Eq{"b.id": id})
}

// GetBookingByCode looks a booking up by its confirmation code.
func (db *DB) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	return db.getBookingWhere(ctx, sq.Eq{"b.confirmation_code": code})
}

func (db *DB) getBookingWhere(ctx context.Context, where sq.Sqlizer) (*models.Booking, error) {
	query, args, err := db.selectBookings().Where(where).ToSql()
	if err != nil {
		return nil, domain.StoreError("build booking query", err)
	}
	b, err := scanBooking(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StoreError("get booking", err)
	}
	if err := db.loadLines(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListBookings returns bookings with their customers, without line items.
func (db *DB) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	q := db.selectBookings()
	if !f.From.IsZero() {
		q = q.Where(sq.GtOrEq{"b.booking_date": f.From})
	}
	if !f.To.IsZero() {
		q = q.Where(sq.LtOrEq{"b.booking_date": f.To})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"b.status": f.Status})
	}
	if f.CustomerID != 0 {
		q = q.Where(sq.Eq{"b.customer_id": f.CustomerID})
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
		q = q.Where(sq.Or{
			sq.Expr(`LOWER(c.first_name || ' ' || c.last_name) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`LOWER(c.email) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`LOWER(b.confirmation_code) LIKE ? ESCAPE '\'`, pattern),
		})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	q = q.OrderBy("b.booking_date ASC", "b.id ASC").Limit(uint64(limit))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, domain.StoreError("build bookings query", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("list bookings", err)
	}
	defer rows.Close()

	var out []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, domain.StoreError("scan booking", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("list bookings", err)
	}
	return out, nil
}

// GetBookingsByDateRange returns every booking between from and to
// inclusive, any status.
func (db *DB) GetBookingsByDateRange(ctx context.Context, from, to calendar.Date) ([]*models.Booking, error) {
	var out []*models.Booking
	for offset := 0; ; offset += models.DefaultListLimit {
		page, err := db.ListBookings(ctx, models.BookingFilter{From: from, To: to, Limit: models.DefaultListLimit, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < models.DefaultListLimit {
			return out, nil
		}
	}
}

// GetDailyBookings groups the range by date key (YYYY-MM-DD).
func (db *DB) GetDailyBookings(ctx context.Context, from, to calendar.Date) (map[string][]*models.Booking, error) {
	bookings, err := db.GetBookingsByDateRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	daily := make(map[string][]*models.Booking)
	for _, b := range bookings {
		key := b.Date.String()
		daily[key] = append(daily[key], b)
	}
	return daily, nil
}

// DayUsage returns non-cancelled bookings on date.
func (db *DB) DayUsage(ctx context.Context, date calendar.Date) (scheduling.Usage, error) {
	usage, err := db.UsageBetween(ctx, date, date)
	if err != nil {
		return scheduling.Usage{}, err
	}
	return usage[date], nil
}

// UsageBetween returns non-cancelled bookings per date between from and to
// inclusive. Dates without bookings are absent from the map.
func (db *DB) UsageBetween(ctx context.Context, from, to calendar.Date) (map[calendar.Date]scheduling.Usage, error) {
	query, args, err := db.sb.Select("id", "booking_date", "booking_time").
		From("bookings").
		Where(sq.GtOrEq{"booking_date": from}).
		Where(sq.LtOrEq{"booking_date": to}).
		Where(sq.NotEq{"status": models.StatusCancelled}).
		ToSql()
	if err != nil {
		return nil, domain.StoreError("build usage query", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("query usage", err)
	}
	defer rows.Close()

	out := make(map[calendar.Date]scheduling.Usage)
	for rows.Next() {
		var (
			id   int64
			date calendar.Date
			slot string
		)
		if err := rows.Scan(&id, &date, &slot); err != nil {
			return nil, domain.StoreError("scan usage", err)
		}
		u := out[date]
		if u.Taken == nil {
			u.Taken = make(map[string]int64)
		}
		u.Booked++
		u.Taken[slot] = id
		out[date] = u
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("query usage", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (db *DB) selectBookings() sq.SelectBuilder {
	return db.sb.Select(bookingColumns...).
		From("bookings b").
		Join("customers c ON c.id = b.customer_id")
}

func (db *DB) loadLines(ctx context.Context, b *models.Booking) error {
	services, err := db.queryLines(ctx,
		db.sb.Select("id", "booking_id", "service_id", "''", "name", "quantity", "price").
			From("booking_services").Where(sq.Eq{"booking_id": b.ID}).OrderBy("id"))
	if err != nil {
		return err
	}
	rooms, err := db.queryLines(ctx,
		db.sb.Select("id", "booking_id", "service_id", "room_type", "name", "quantity", "price").
			From("booking_rooms").Where(sq.Eq{"booking_id": b.ID}).OrderBy("id"))
	if err != nil {
		return err
	}
	b.Services = services
	b.Rooms = rooms
	return nil
}

func (db *DB) queryLines(ctx context.Context, q sq.SelectBuilder) ([]models.BookingLine, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, domain.StoreError("build line items query", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreError("query line items", err)
	}
	defer rows.Close()

	var out []models.BookingLine
	for rows.Next() {
		var l models.BookingLine
		if err := rows.Scan(&l.ID, &l.BookingID, &l.ServiceID, &l.RoomType, &l.Name, &l.Quantity, &l.Price); err != nil {
			return nil, domain.StoreError("scan line item", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("query line items", err)
	}
	return out, nil
}

func scanBooking(s rowScanner) (*models.Booking, error) {
	var (
		b      models.Booking
		c      models.Customer
		floors sql.NullInt64
	)
	err := s.Scan(
		&b.ID, &b.CustomerID, &b.Date, &b.TimeSlot, &b.DayOfWeek,
		&b.TotalPrice, &b.Status, &b.ZipCode, &b.SpecialInstructions,
		&b.ConfirmationCode, &b.CreatedAt, &b.UpdatedAt,
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Phone, &c.Address,
		&c.UnitNumber, &c.City, &c.State, &c.ZipCode, &c.PropertyType,
		&floors, &c.FloorLevel, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if floors.Valid {
		n := int(floors.Int64)
		c.Floors = &n
	}
	b.Customer = &c
	return &b, nil
}

// classifyBookingWrite maps constraint failures on bookings to domain
// errors.
func classifyBookingWrite(err error, op string) error {
	if !isUniqueViolation(err) {
		return domain.StoreError(op, err)
	}
	if strings.Contains(err.Error(), "confirmation_code") {
		return ErrDuplicateCode
	}
	return domain.ErrSlotTaken
}

// rebind rewrites ? placeholders for the active driver. Only used for
// statements squirrel cannot express.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
