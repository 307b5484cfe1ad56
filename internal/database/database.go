package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cleanbook/internal/config"
	"cleanbook/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var (
	// ErrDuplicateCode is returned when a confirmation code is already used.
	ErrDuplicateCode = errors.New("confirmation code already exists")
)

// DB is the relational store for customers, bookings and reference data.
type DB struct {
	*sql.DB
	driver string
	path   string
	sb     sq.StatementBuilderType
	logger *zerolog.Logger
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// NewDB opens an SQLite database at path (":memory:" for tests) and applies
// the schema.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	return Open(config.DatabaseConfig{Driver: DriverSQLite, Path: path}, logger)
}

// Open connects with the configured driver and applies the schema.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	var (
		sqlDB *sql.DB
		err   error
		sb    = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	)

	switch cfg.Driver {
	case DriverSQLite, "":
		cfg.Driver = DriverSQLite
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		// Immediate transactions take the write lock up front so the
		// capacity check and the insert cannot interleave.
		dsn := cfg.Path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
		sqlDB, err = sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if cfg.Path == ":memory:" {
			// Every connection to :memory: is a separate database.
			sqlDB.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		sqlDB, err = sql.Open(DriverPostgres, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if cfg.MaxOpenConns > 0 && cfg.Path != ":memory:" {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, driver: cfg.Driver, path: cfg.Path, sb: sb, logger: logger}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", cfg.Driver).Msg("Database initialized")
	return db, nil
}

func (db *DB) Driver() string { return db.driver }

// Path is the SQLite file path, empty for other drivers.
func (db *DB) Path() string {
	if db.driver != DriverSQLite {
		return ""
	}
	return db.path
}

func (db *DB) migrate(ctx context.Context) error {
	for _, q := range schema(db.driver) {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func schema(driver string) []string {
	r := strings.NewReplacer("{pk}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{ts}", "DATETIME")
	if driver == DriverPostgres {
		r = strings.NewReplacer("{pk}", "BIGSERIAL PRIMARY KEY", "{ts}", "TIMESTAMPTZ")
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS customers (
            id {pk},
            email TEXT UNIQUE NOT NULL,
            first_name TEXT NOT NULL,
            last_name TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            unit_number TEXT NOT NULL DEFAULT '',
            city TEXT NOT NULL DEFAULT '',
            state TEXT NOT NULL DEFAULT '',
            zip_code TEXT NOT NULL DEFAULT '',
            property_type TEXT NOT NULL DEFAULT '',
            floors INTEGER,
            floor_level TEXT NOT NULL DEFAULT '',
            created_at {ts} NOT NULL,
            updated_at {ts} NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS services (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            icon TEXT NOT NULL DEFAULT '',
            fixed_price DECIMAL(10,2)
        )`,
		`CREATE TABLE IF NOT EXISTS room_types (
            id TEXT NOT NULL,
            service_id TEXT NOT NULL REFERENCES services(id),
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            icon TEXT NOT NULL DEFAULT '',
            special_price DECIMAL(10,2),
            price_per_sqft DECIMAL(10,2),
            is_standard_room BOOLEAN NOT NULL DEFAULT FALSE,
            is_checkbox BOOLEAN NOT NULL DEFAULT FALSE,
            PRIMARY KEY (service_id, id)
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id {pk},
            customer_id INTEGER NOT NULL REFERENCES customers(id),
            booking_date DATE NOT NULL,
            booking_time TEXT NOT NULL,
            day_of_week TEXT NOT NULL,
            total_price DECIMAL(10,2) NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'pending',
            zip_code TEXT NOT NULL DEFAULT '',
            special_instructions TEXT NOT NULL DEFAULT '',
            confirmation_code TEXT NOT NULL UNIQUE,
            created_at {ts} NOT NULL,
            updated_at {ts} NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS booking_services (
            id {pk},
            booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            service_id TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            quantity INTEGER NOT NULL DEFAULT 1,
            price DECIMAL(10,2) NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS booking_rooms (
            id {pk},
            booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            service_id TEXT NOT NULL DEFAULT '',
            room_type TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            quantity INTEGER NOT NULL DEFAULT 1,
            price DECIMAL(10,2) NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS service_area_zip_codes (
            zip_code TEXT PRIMARY KEY,
            city TEXT NOT NULL DEFAULT '',
            state TEXT NOT NULL DEFAULT ''
        )`,
		// One row per date with a booking; booked counts non-cancelled
		// bookings and is only ever changed by conditional updates.
		`CREATE TABLE IF NOT EXISTS booking_days (
            booking_date DATE PRIMARY KEY,
            booked INTEGER NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id {pk},
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at {ts} NOT NULL,
            processed_at {ts},
            next_retry_at {ts}
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(booking_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer ON bookings(customer_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_active_slot
            ON bookings(booking_date, booking_time) WHERE status <> 'cancelled'`,
		`CREATE INDEX IF NOT EXISTS idx_booking_services_booking ON booking_services(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_rooms_booking ON booking_rooms(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for i, q := range queries {
		queries[i] = r.Replace(q)
	}
	return queries
}

// withTx runs fn in a transaction, committing only if fn returns nil.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.StoreError("commit", err)
	}
	return nil
}

// forUpdate locks selected rows on drivers that support row locks. SQLite
// already holds the database write lock inside an immediate transaction.
func (db *DB) forUpdate(b sq.SelectBuilder) sq.SelectBuilder {
	if db.driver == DriverPostgres {
		return b.Suffix("FOR UPDATE")
	}
	return b
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func trimSQL(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 60 {
		return q[:60] + "..."
	}
	return q
}
