// Package scheduling decides which days and time slots can be booked.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/domain"
	"cleanbook/internal/models"
)

// UsageStore reads non-cancelled bookings.
type UsageStore interface {
	DayUsage(ctx context.Context, date calendar.Date) (Usage, error)
	UsageBetween(ctx context.Context, from, to calendar.Date) (map[calendar.Date]Usage, error)
}

type Core struct {
	rules Rules
	store UsageStore
}

func NewCore(rules Rules, store UsageStore) *Core {
	return &Core{rules: rules, store: store}
}

func (c *Core) Rules() Rules { return c.rules }

func (c *Core) DailyCapacity(d calendar.Date) int { return c.rules.DailyCapacity(d) }

func (c *Core) usage(ctx context.Context, d calendar.Date) (Usage, error) {
	u, err := c.store.DayUsage(ctx, d)
	if err != nil {
		return Usage{}, fmt.Errorf("usage for %s: %w", d, err)
	}
	return u, nil
}

func (c *Core) BookedCount(ctx context.Context, d calendar.Date) (int, error) {
	u, err := c.usage(ctx, d)
	if err != nil {
		return 0, err
	}
	return u.Booked, nil
}

func (c *Core) AvailableSlots(ctx context.Context, d calendar.Date) (int, error) {
	if !c.rules.IsOperatingDay(d) {
		return 0, nil
	}
	u, err := c.usage(ctx, d)
	if err != nil {
		return 0, err
	}
	return c.rules.Available(d, u), nil
}

// Check explains why slot on d is not bookable. A nil error means it is.
// Store failures are returned as-is and never read as "unavailable".
func (c *Core) Check(ctx context.Context, d calendar.Date, slot string) error {
	return c.CheckExcluding(ctx, d, slot, 0)
}

// CheckExcluding is Check ignoring one existing booking, used when moving a
// booking within the same day.
func (c *Core) CheckExcluding(ctx context.Context, d calendar.Date, slot string, bookingID int64) error {
	if !c.rules.IsOperatingDay(d) {
		return ErrClosedDay
	}
	if !c.rules.IsKnownSlot(slot) {
		return ErrUnknownSlot
	}
	u, err := c.usage(ctx, d)
	if err != nil {
		return err
	}
	if bookingID != 0 {
		u = u.Without(bookingID)
	}
	return c.rules.Check(d, slot, u)
}

func (c *Core) IsBookable(ctx context.Context, d calendar.Date, slot string) (bool, error) {
	err := c.Check(ctx, d, slot)
	switch {
	case err == nil:
		return true, nil
	case isRuleError(err):
		return false, nil
	default:
		return false, err
	}
}

// Month returns one entry per day of the month.
func (c *Core) Month(ctx context.Context, year int, month time.Month) ([]models.DayAvailability, error) {
	first, err := calendar.New(year, month, 1)
	if err != nil {
		return nil, err
	}
	last := calendar.MustNew(year, month, calendar.DaysIn(year, month))

	usage, err := c.store.UsageBetween(ctx, first, last)
	if err != nil {
		return nil, fmt.Errorf("usage for %04d-%02d: %w", year, int(month), err)
	}

	days := make([]models.DayAvailability, 0, last.Day)
	for d := first; !d.After(last); d = d.AddDays(1) {
		u := usage[d]
		operating := c.rules.IsOperatingDay(d)
		available := c.rules.Available(d, u)
		days = append(days, models.DayAvailability{
			Date:        d,
			DayOfWeek:   WeekdayName(d),
			Operating:   operating,
			Capacity:    c.rules.DailyCapacity(d),
			Booked:      u.Booked,
			Available:   available,
			FullyBooked: operating && available == 0,
		})
	}
	return days, nil
}

// Slots lists every time window of d with its availability.
func (c *Core) Slots(ctx context.Context, d calendar.Date) ([]models.SlotAvailability, error) {
	out := make([]models.SlotAvailability, 0, len(c.rules.Slots))
	if !c.rules.IsOperatingDay(d) {
		for _, s := range c.rules.Slots {
			out = append(out, models.SlotAvailability{Label: s})
		}
		return out, nil
	}
	u, err := c.usage(ctx, d)
	if err != nil {
		return nil, err
	}
	for _, s := range c.rules.Slots {
		out = append(out, models.SlotAvailability{Label: s, Available: c.rules.Check(d, s, u) == nil})
	}
	return out, nil
}

func isRuleError(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotAvailable)
}
