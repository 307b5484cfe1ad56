package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	usage map[calendar.Date]Usage
	err   error
}

func (f *fakeStore) DayUsage(ctx context.Context, d calendar.Date) (Usage, error) {
	if f.err != nil {
		return Usage{}, f.err
	}
	return f.usage[d], nil
}

func (f *fakeStore) UsageBetween(ctx context.Context, from, to calendar.Date) (map[calendar.Date]Usage, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[calendar.Date]Usage)
	for d, u := range f.usage {
		if !d.Before(from) && !d.After(to) {
			out[d] = u
		}
	}
	return out, nil
}

func (f *fakeStore) book(d calendar.Date, slot string, id int64) {
	u := f.usage[d]
	if u.Taken == nil {
		u.Taken = map[string]int64{}
	}
	u.Taken[slot] = id
	u.Booked++
	f.usage[d] = u
}

func (f *fakeStore) cancel(d calendar.Date, slot string) {
	u := f.usage[d]
	delete(u.Taken, slot)
	u.Booked--
	f.usage[d] = u
}

func newFake() *fakeStore { return &fakeStore{usage: map[calendar.Date]Usage{}} }

var (
	tuesday  = calendar.MustNew(2024, time.July, 16)
	saturday = calendar.MustNew(2024, time.June, 15)
	sunday   = calendar.MustNew(2024, time.June, 16)
	monday   = calendar.MustNew(2024, time.June, 17)
)

func TestWeekdaySet(t *testing.T) {
	s := DefaultOperatingDays
	assert.False(t, s.Has(time.Sunday))
	assert.False(t, s.Has(time.Monday))
	for _, d := range []time.Weekday{time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday} {
		assert.True(t, s.Has(d), d.String())
	}
	assert.Equal(t, "Tue,Wed,Thu,Fri,Sat", s.String())

	parsed, err := ParseWeekdays([]string{"tuesday", "Wed", "4", " FRIDAY ", "sat"})
	require.NoError(t, err)
	assert.Equal(t, s, parsed)

	_, err = ParseWeekdays([]string{"funday"})
	assert.Error(t, err)
	_, err = ParseWeekdays([]string{"7"})
	assert.Error(t, err)
}

func TestDailyCapacity(t *testing.T) {
	r := DefaultRules()
	assert.Equal(t, 5, r.DailyCapacity(tuesday))
	assert.Equal(t, 5, r.DailyCapacity(saturday))
	assert.Equal(t, 0, r.DailyCapacity(sunday))
	assert.Equal(t, 0, r.DailyCapacity(monday))

	custom := Rules{OperatingDays: NewWeekdaySet(time.Monday), Capacity: 3, Slots: DefaultSlots}
	assert.Equal(t, 3, custom.DailyCapacity(monday))
	assert.Equal(t, 0, custom.DailyCapacity(tuesday))
}

func TestAvailableSlots_NonOperatingDayAlwaysZero(t *testing.T) {
	store := newFake()
	// Data anomaly: bookings recorded on a closed day.
	store.book(sunday, DefaultSlots[0], 1)
	core := NewCore(DefaultRules(), store)

	n, err := core.AvailableSlots(context.Background(), sunday)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = core.AvailableSlots(context.Background(), monday)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAvailableSlots_CountsDown(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	core := NewCore(DefaultRules(), store)

	for i, slot := range DefaultSlots {
		n, err := core.AvailableSlots(ctx, tuesday)
		require.NoError(t, err)
		assert.Equal(t, 5-i, n)
		store.book(tuesday, slot, int64(i+1))
	}

	n, err := core.AvailableSlots(ctx, tuesday)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	booked, err := core.BookedCount(ctx, tuesday)
	require.NoError(t, err)
	assert.Equal(t, 5, booked)

	store.cancel(tuesday, DefaultSlots[2])
	n, err = core.AvailableSlots(ctx, tuesday)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAvailable_NeverNegative(t *testing.T) {
	r := DefaultRules()
	assert.Equal(t, 0, r.Available(tuesday, Usage{Booked: 9}))
}

func TestIsBookable(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	core := NewCore(DefaultRules(), store)
	slot := DefaultSlots[0]

	ok, err := core.IsBookable(ctx, tuesday, slot)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = core.IsBookable(ctx, sunday, slot)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = core.IsBookable(ctx, tuesday, "9:00 AM - 10:00 AM")
	require.NoError(t, err)
	assert.False(t, ok)

	store.book(tuesday, slot, 1)
	ok, err = core.IsBookable(ctx, tuesday, slot)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different window on the same day is still open.
	ok, err = core.IsBookable(ctx, tuesday, DefaultSlots[1])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheck_Reasons(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	core := NewCore(DefaultRules(), store)

	assert.ErrorIs(t, core.Check(ctx, monday, DefaultSlots[0]), ErrClosedDay)
	assert.ErrorIs(t, core.Check(ctx, monday, DefaultSlots[0]), domain.ErrValidation)
	assert.ErrorIs(t, core.Check(ctx, tuesday, "noon"), ErrUnknownSlot)

	store.book(tuesday, DefaultSlots[0], 7)
	err := core.Check(ctx, tuesday, DefaultSlots[0])
	assert.ErrorIs(t, err, domain.ErrSlotTaken)
	assert.ErrorIs(t, err, domain.ErrConflict)

	for i, s := range DefaultSlots[1:] {
		store.book(tuesday, s, int64(10+i))
	}
	err = core.Check(ctx, tuesday, DefaultSlots[3])
	assert.ErrorIs(t, err, ErrDayFull)
	assert.ErrorIs(t, err, domain.ErrNotAvailable)
}

func TestCheckExcluding_OwnBookingDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	core := NewCore(DefaultRules(), store)
	for i, s := range DefaultSlots {
		store.book(tuesday, s, int64(i+1))
	}

	assert.ErrorIs(t, core.Check(ctx, tuesday, DefaultSlots[0]), ErrDayFull)
	assert.NoError(t, core.CheckExcluding(ctx, tuesday, DefaultSlots[0], 1))
	assert.ErrorIs(t, core.CheckExcluding(ctx, tuesday, DefaultSlots[1], 1), domain.ErrSlotTaken)
}

func TestCheck_StoreErrorIsNotUnavailable(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	core := NewCore(DefaultRules(), &fakeStore{err: boom})

	ok, err := core.IsBookable(ctx, tuesday, DefaultSlots[0])
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrNotAvailable)

	_, err = core.AvailableSlots(ctx, tuesday)
	assert.ErrorIs(t, err, boom)

	// Closed days are answered without touching the store.
	n, err := core.AvailableSlots(ctx, sunday)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMonth(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	for i, s := range DefaultSlots {
		store.book(tuesday, s, int64(i+1))
	}
	store.book(calendar.MustNew(2024, time.July, 17), DefaultSlots[0], 9)
	store.book(calendar.MustNew(2024, time.August, 1), DefaultSlots[0], 10)

	core := NewCore(DefaultRules(), store)
	days, err := core.Month(ctx, 2024, time.July)
	require.NoError(t, err)
	require.Len(t, days, 31)

	assert.Equal(t, calendar.MustNew(2024, time.July, 1), days[0].Date)
	assert.Equal(t, "Monday", days[0].DayOfWeek)
	assert.False(t, days[0].Operating)
	assert.Equal(t, 0, days[0].Available)
	assert.False(t, days[0].FullyBooked)

	full := days[15]
	assert.Equal(t, tuesday, full.Date)
	assert.True(t, full.Operating)
	assert.Equal(t, 5, full.Booked)
	assert.Equal(t, 0, full.Available)
	assert.True(t, full.FullyBooked)

	assert.Equal(t, 4, days[16].Available)
	assert.Equal(t, 5, days[17].Available)

	_, err = core.Month(ctx, 2024, time.Month(13))
	assert.Error(t, err)
}

func TestSlots(t *testing.T) {
	ctx := context.Background()
	store := newFake()
	store.book(tuesday, DefaultSlots[1], 1)
	core := NewCore(DefaultRules(), store)

	slots, err := core.Slots(ctx, tuesday)
	require.NoError(t, err)
	require.Len(t, slots, len(DefaultSlots))
	for i, s := range slots {
		assert.Equal(t, DefaultSlots[i], s.Label)
		assert.Equal(t, i != 1, s.Available, s.Label)
	}

	closed, err := core.Slots(ctx, sunday)
	require.NoError(t, err)
	for _, s := range closed {
		assert.False(t, s.Available)
	}
}

func TestWeekdayName(t *testing.T) {
	assert.Equal(t, "Saturday", WeekdayName(saturday))
	assert.Equal(t, "Tuesday", WeekdayName(tuesday))
}

func TestUsageWithout(t *testing.T) {
	u := Usage{Booked: 2, Taken: map[string]int64{"a": 1, "b": 2}}
	w := u.Without(1)
	assert.Equal(t, 1, w.Booked)
	assert.Equal(t, map[string]int64{"b": 2}, w.Taken)
	assert.Equal(t, 2, u.Booked, "original untouched")

	assert.Equal(t, u.Booked, u.Without(99).Booked)
}

func TestNewRules(t *testing.T) {
	r, err := NewRules(nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), r)

	r, err = NewRules([]string{"monday", "friday"}, 3, []string{"9:00 AM - 10:00 AM"})
	require.NoError(t, err)
	assert.True(t, r.OperatingDays.Has(time.Monday))
	assert.False(t, r.OperatingDays.Has(time.Tuesday))
	assert.Equal(t, 3, r.Capacity)
	assert.Equal(t, []string{"9:00 AM - 10:00 AM"}, r.Slots)

	_, err = NewRules([]string{"someday"}, 0, nil)
	assert.Error(t, err)
}
