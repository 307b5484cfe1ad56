package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/domain"
	"cleanbook/internal/models"
	"cleanbook/internal/scheduling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	july16 = calendar.MustNew(2024, time.July, 16)
	july17 = calendar.MustNew(2024, time.July, 17)
)

const (
	slotA = "10:00 AM - 11:30 AM"
	slotB = "11:30 AM - 1:00 PM"
)

func TestCreateAndGetBooking(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := testBooking(july16, slotA, "jane@example.com")
	require.NoError(t, db.CreateBooking(ctx, b, 5))
	require.NotZero(t, b.ID)
	assert.NotZero(t, b.CustomerID)
	assert.False(t, b.CreatedAt.IsZero())

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, july16, got.Date)
	assert.Equal(t, slotA, got.TimeSlot)
	assert.Equal(t, "Tuesday", got.DayOfWeek)
	assert.Equal(t, models.Dollars(104), got.TotalPrice)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, b.ConfirmationCode, got.ConfirmationCode)
	require.NotNil(t, got.Customer)
	assert.Equal(t, "jane@example.com", got.Customer.Email)

	require.Len(t, got.Services, 1)
	assert.Equal(t, "carpet", got.Services[0].ServiceID)
	require.Len(t, got.Rooms, 2)
	assert.Equal(t, "bedroom", got.Rooms[0].RoomType)
	assert.Equal(t, 5, got.Rooms[0].Quantity)
	assert.Equal(t, models.Dollars(89), got.Rooms[0].Price)

	byCode, err := db.GetBookingByCode(ctx, b.ConfirmationCode)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byCode.ID)
}

func TestGetBooking_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetBooking(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrStore)

	_, err = db.GetBookingByCode(context.Background(), "CL123456")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateBooking_RequiresCustomer(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	b := testBooking(july16, slotA, "x@example.com")
	b.Customer = nil
	assert.ErrorIs(t, db.CreateBooking(context.Background(), b, 5), domain.ErrValidation)
}

func TestCreateBooking_CapacityAndSlot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.CreateBooking(ctx, testBooking(july16, slotA, "a@example.com"), 2))

	err := db.CreateBooking(ctx, testBooking(july16, slotA, "b@example.com"), 2)
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	// The failed insert must not have consumed the day.
	require.NoError(t, db.CreateBooking(ctx, testBooking(july16, slotB, "c@example.com"), 2))

	err = db.CreateBooking(ctx, testBooking(july16, "1:00 PM - 2:30 PM", "d@example.com"), 2)
	assert.ErrorIs(t, err, scheduling.ErrDayFull)
	assert.ErrorIs(t, err, domain.ErrNotAvailable)

	usage, err := db.DayUsage(ctx, july16)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Booked)
	assert.Contains(t, usage.Taken, slotA)
	assert.Contains(t, usage.Taken, slotB)
}

func TestCreateBooking_DuplicateCode(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	first := testBooking(july16, slotA, "a@example.com")
	require.NoError(t, db.CreateBooking(ctx, first, 5))

	dup := testBooking(july16, slotB, "b@example.com")
	dup.ConfirmationCode = first.ConfirmationCode
	err := db.CreateBooking(ctx, dup, 5)
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.Zero(t, dup.ID)

	usage, err := db.DayUsage(ctx, july16)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Booked)
}

func TestUpdateBookingStatus(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := testBooking(july16, slotA, "a@example.com")
	require.NoError(t, db.CreateBooking(ctx, b, 1))

	require.NoError(t, db.UpdateBookingStatus(ctx, b.ID, models.StatusCompleted))

	err := db.UpdateBookingStatus(ctx, b.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, domain.ErrFinalized)
	assert.Contains(t, err.Error(), "completed")

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	assert.ErrorIs(t, db.UpdateBookingStatus(ctx, 999, models.StatusCancelled), domain.ErrNotFound)
	assert.ErrorIs(t, db.UpdateBookingStatus(ctx, b.ID, models.StatusPending), domain.ErrInvalidStatus)
}

func TestCancelReleasesCapacity(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := testBooking(july16, slotA, "a@example.com")
	require.NoError(t, db.CreateBooking(ctx, b, 1))
	assert.ErrorIs(t, db.CreateBooking(ctx, testBooking(july16, slotB, "b@example.com"), 1), scheduling.ErrDayFull)

	require.NoError(t, db.UpdateBookingStatus(ctx, b.ID, models.StatusCancelled))

	usage, err := db.DayUsage(ctx, july16)
	require.NoError(t, err)
	assert.Zero(t, usage.Booked)

	// Both the day and the slot are free again.
	require.NoError(t, db.CreateBooking(ctx, testBooking(july16, slotA, "b@example.com"), 1))
}

func TestRescheduleBooking(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := testBooking(july16, slotA, "a@example.com")
	require.NoError(t, db.CreateBooking(ctx, b, 1))

	require.NoError(t, db.RescheduleBooking(ctx, b.ID, july17, slotB, "Wednesday", 1))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, july17, got.Date)
	assert.Equal(t, slotB, got.TimeSlot)
	assert.Equal(t, "Wednesday", got.DayOfWeek)
	assert.Equal(t, b.ConfirmationCode, got.ConfirmationCode)
	assert.Equal(t, models.StatusPending, got.Status)

	old, err := db.DayUsage(ctx, july16)
	require.NoError(t, err)
	assert.Zero(t, old.Booked)

	// Capacity moved with the booking.
	require.NoError(t, db.CreateBooking(ctx, testBooking(july16, slotA, "b@example.com"), 1))
	err = db.CreateBooking(ctx, testBooking(july17, slotA, "c@example.com"), 1)
	assert.ErrorIs(t, err, scheduling.ErrDayFull)
}

func TestRescheduleBooking_SameDayNewSlot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := testBooking(july16, slotA, "a@example.com")
	require.NoError(t, db.CreateBooking(ctx, b, 1))

	// A full day still accepts a move within itself.
	require.NoError(t, db.RescheduleBooking(ctx, b.ID, july16, slotB, "Tuesday", 1))

	usage, err := db.DayUsage(ctx, july16)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Booked)
	assert.Equal(t, b.ID, usage.Taken[slotB])
}

func TestRescheduleBooking_Conflicts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	a := testBooking(july16, slotA, "a@example.com")
	require.NoError(t, db.CreateBooking(ctx, a, 5))
	other := testBooking(july17, slotA, "b@example.com")
	require.NoError(t, db.CreateBooking(ctx, other, 5))

	err := db.RescheduleBooking(ctx, a.ID, july17, slotA, "Wednesday", 5)
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	got, err := db.GetBooking(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, july16, got.Date)

	usage, err := db.UsageBetween(ctx, july16, july17)
	require.NoError(t, err)
	assert.Equal(t, 1, usage[july16].Booked)
	assert.Equal(t, 1, usage[july17].Booked)

	require.NoError(t, db.UpdateBookingStatus(ctx, a.ID, models.StatusCancelled))
	err = db.RescheduleBooking(ctx, a.ID, july17, slotB, "Wednesday", 5)
	assert.ErrorIs(t, err, domain.ErrFinalized)

	assert.ErrorIs(t, db.RescheduleBooking(ctx, 999, july17, slotB, "Wednesday", 5), domain.ErrNotFound)
}

func TestListBookings(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b1 := testBooking(july16, slotA, "a@example.com")
	b2 := testBooking(july17, slotA, "b@example.com")
	b3 := testBooking(calendar.MustNew(2024, time.August, 1), slotA, "c@example.com")
	for _, b := range []*models.Booking{b1, b2, b3} {
		require.NoError(t, db.CreateBooking(ctx, b, 5))
	}
	require.NoError(t, db.UpdateBookingStatus(ctx, b2.ID, models.StatusCancelled))

	all, err := db.ListBookings(ctx, models.BookingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, b1.ID, all[0].ID)
	assert.Equal(t, b3.ID, all[2].ID)

	july, err := db.ListBookings(ctx, models.BookingFilter{From: july16, To: calendar.MustNew(2024, time.July, 31)})
	require.NoError(t, err)
	assert.Len(t, july, 2)

	cancelled, err := db.ListBookings(ctx, models.BookingFilter{Status: models.StatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, b2.ID, cancelled[0].ID)

	page, err := db.ListBookings(ctx, models.BookingFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, b2.ID, page[0].ID)

	daily, err := db.GetDailyBookings(ctx, july16, july17)
	require.NoError(t, err)
	assert.Len(t, daily["2024-07-16"], 1)
	assert.Len(t, daily["2024-07-17"], 1)

	usage, err := db.UsageBetween(ctx, july16, calendar.MustNew(2024, time.August, 31))
	require.NoError(t, err)
	_, hasCancelled := usage[july17]
	assert.False(t, hasCancelled)
	assert.Equal(t, 1, usage[calendar.MustNew(2024, time.August, 1)].Booked)
}

func TestListBookings_SearchAndCustomer(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	first := testBooking(july16, slotA, "ann@example.com")
	first.Customer.FirstName = "Ann"
	first.Customer.LastName = "O'Brien"
	second := testBooking(july17, slotA, "ann@example.com")
	second.Customer.FirstName = "Ann"
	second.Customer.LastName = "O'Brien"
	other := testBooking(july17, slotB, "max_100@example.com")
	for _, b := range []*models.Booking{first, second, other} {
		require.NoError(t, db.CreateBooking(ctx, b, 5))
	}
	require.Equal(t, first.CustomerID, second.CustomerID)

	mine, err := db.ListBookings(ctx, models.BookingFilter{CustomerID: first.CustomerID})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, first.ID, mine[0].ID)
	assert.Equal(t, second.ID, mine[1].ID)

	cases := map[string]struct {
		term string
		want []int64
	}{
		"full name":             {"ann o'brien", []int64{first.ID, second.ID}},
		"email":                 {"MAX_100@", []int64{other.ID}},
		"code":                  {strings.ToLower(other.ConfirmationCode), []int64{other.ID}},
		"underscore is literal": {"a_n", nil},
		"percent is literal":    {"%", nil},
		"no match":              {"nobody", nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := db.ListBookings(ctx, models.BookingFilter{Search: tc.term})
			require.NoError(t, err)
			var ids []int64
			for _, b := range got {
				ids = append(ids, b.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}

	narrowed, err := db.ListBookings(ctx, models.BookingFilter{Search: "ann", From: july17})
	require.NoError(t, err)
	require.Len(t, narrowed, 1)
	assert.Equal(t, second.ID, narrowed[0].ID)
}
