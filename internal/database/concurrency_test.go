package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"cleanbook/internal/domain"
	"cleanbook/internal/models"
	"cleanbook/internal/scheduling"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFileDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	return db
}

func TestConcurrentBooking_CapacityHolds(t *testing.T) {
	db := openFileDB(t)
	defer db.Close()
	ctx := context.Background()

	const (
		numGoroutines = 10
		capacity      = 5
	)

	bookings := make([]*models.Booking, numGoroutines)
	for i := range bookings {
		bookings[i] = testBooking(july16, fmt.Sprintf("slot-%d", i), fmt.Sprintf("user%d@example.com", i))
	}

	var wg sync.WaitGroup
	results := make(chan error, numGoroutines)
	for _, b := range bookings {
		wg.Add(1)
		go func(b *models.Booking) {
			defer wg.Done()
			results <- db.CreateBooking(ctx, b, capacity)
		}(b)
	}
	wg.Wait()
	close(results)

	success, full := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, scheduling.ErrDayFull):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, capacity, success)
	assert.Equal(t, numGoroutines-capacity, full)

	usage, err := db.DayUsage(ctx, july16)
	require.NoError(t, err)
	assert.Equal(t, capacity, usage.Booked)
}

func TestConcurrentBooking_SameSlot(t *testing.T) {
	db := openFileDB(t)
	defer db.Close()
	ctx := context.Background()

	const numGoroutines = 10

	bookings := make([]*models.Booking, numGoroutines)
	for i := range bookings {
		bookings[i] = testBooking(july16, slotA, fmt.Sprintf("user%d@example.com", i))
	}

	var wg sync.WaitGroup
	results := make(chan error, numGoroutines)
	for _, b := range bookings {
		wg.Add(1)
		go func(b *models.Booking) {
			defer wg.Done()
			results <- db.CreateBooking(ctx, b, 5)
		}(b)
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrSlotTaken)
	}
	assert.Equal(t, 1, success, "only one booking may hold a slot")

	usage, err := db.DayUsage(ctx, july16)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Booked)
}
