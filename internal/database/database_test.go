package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/config"
	"cleanbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

var codeSeq int

func testBooking(date calendar.Date, slot, email string) *models.Booking {
	codeSeq++
	return &models.Booking{
		Customer: &models.Customer{
			Email:     email,
			FirstName: "Jane",
			LastName:  "Doe",
			Phone:     "813-555-0100",
			Address:   "1 Main St",
			City:      "Tampa",
			State:     "FL",
			ZipCode:   "33602",
		},
		Date:             date,
		TimeSlot:         slot,
		DayOfWeek:        date.Weekday().String(),
		TotalPrice:       models.Dollars(104),
		Status:           models.StatusPending,
		ZipCode:          "33602",
		ConfirmationCode: fmt.Sprintf("CL%06d", codeSeq),
		Services: []models.BookingLine{
			{ServiceID: "carpet", Name: "Carpet Cleaning", Quantity: 1},
		},
		Rooms: []models.BookingLine{
			{ServiceID: "carpet", RoomType: "bedroom", Name: "Bedroom/Living Room", Quantity: 5, Price: models.Dollars(89)},
			{ServiceID: "carpet", RoomType: "hallway", Name: "Hallway", Quantity: 1, Price: models.Dollars(15)},
		},
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
	assert.Equal(t, DriverSQLite, db.Driver())
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	require.NoError(t, db.migrate(context.Background()))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"}, nil)
	assert.Error(t, err)
}

func TestSchema_Postgres(t *testing.T) {
	for _, q := range schema(DriverPostgres) {
		assert.NotContains(t, q, "AUTOINCREMENT")
		assert.NotContains(t, q, "{pk}")
		assert.NotContains(t, q, "{ts}")
	}
}

func TestRebind(t *testing.T) {
	db := &DB{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", db.rebind("a = ? AND b = ?"))

	db.driver = DriverSQLite
	assert.Equal(t, "a = ?", db.rebind("a = ?"))
}

func TestCustomerUpsert(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	floors := 2
	c := &models.Customer{Email: "jane@example.com", FirstName: "Jane", PropertyType: models.PropertyHouse, Floors: &floors}
	require.NoError(t, db.UpsertCustomer(ctx, c))
	require.NotZero(t, c.ID)
	firstID := c.ID

	again := &models.Customer{Email: "jane@example.com", FirstName: "Janet", Phone: "555"}
	require.NoError(t, db.UpsertCustomer(ctx, again))
	assert.Equal(t, firstID, again.ID)

	got, err := db.GetCustomerByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Janet", got.FirstName)
	assert.Equal(t, "555", got.Phone)
	assert.Nil(t, got.Floors)

	byID, err := db.GetCustomer(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, got.Email, byID.Email)

	list, err := db.ListCustomers(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, db.PingContext(ctx))
}
