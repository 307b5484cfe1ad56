package scheduling

import (
	"fmt"

	"cleanbook/internal/calendar"
	"cleanbook/internal/domain"
)

// DefaultSlots are the bookable windows of an operating day.
var DefaultSlots = []string{
	"10:00 AM - 11:30 AM",
	"11:30 AM - 1:00 PM",
	"1:00 PM - 2:30 PM",
	"2:30 PM - 4:00 PM",
	"4:00 PM - 5:30 PM",
}

var (
	ErrClosedDay   = fmt.Errorf("%w: we are closed on this day", domain.ErrValidation)
	ErrUnknownSlot = fmt.Errorf("%w: unknown time slot", domain.ErrValidation)
	ErrDayFull     = fmt.Errorf("%w: this day is fully booked", domain.ErrNotAvailable)
)

// Rules are the weekly business parameters.
type Rules struct {
	OperatingDays WeekdaySet
	Capacity      int
	Slots         []string
}

func DefaultRules() Rules {
	return Rules{
		OperatingDays: DefaultOperatingDays,
		Capacity:      5,
		Slots:         append([]string(nil), DefaultSlots...),
	}
}

// NewRules builds rules from configuration values. Empty values keep the
// defaults.
func NewRules(days []string, capacity int, slots []string) (Rules, error) {
	r := DefaultRules()
	if len(days) > 0 {
		set, err := ParseWeekdays(days)
		if err != nil {
			return Rules{}, err
		}
		r.OperatingDays = set
	}
	if capacity > 0 {
		r.Capacity = capacity
	}
	if len(slots) > 0 {
		r.Slots = append([]string(nil), slots...)
	}
	return r, nil
}

// Usage is what is already booked on one date. Taken maps a slot label to
// the booking holding it; cancelled bookings are never included.
type Usage struct {
	Booked int
	Taken  map[string]int64
}

// Without removes a booking from the usage so it does not block itself.
func (u Usage) Without(bookingID int64) Usage {
	out := Usage{Booked: u.Booked, Taken: make(map[string]int64, len(u.Taken))}
	for slot, id := range u.Taken {
		if id == bookingID {
			if out.Booked > 0 {
				out.Booked--
			}
			continue
		}
		out.Taken[slot] = id
	}
	return out
}

func (r Rules) IsOperatingDay(d calendar.Date) bool {
	return r.OperatingDays.Has(d.Weekday())
}

func (r Rules) DailyCapacity(d calendar.Date) int {
	if !r.IsOperatingDay(d) {
		return 0
	}
	return r.Capacity
}

func (r Rules) IsKnownSlot(slot string) bool {
	for _, s := range r.Slots {
		if s == slot {
			return true
		}
	}
	return false
}

// Available is capacity minus booked, never negative. Non-operating days
// always report 0 even if bookings exist on them.
func (r Rules) Available(d calendar.Date, u Usage) int {
	n := r.DailyCapacity(d) - u.Booked
	if n < 0 {
		return 0
	}
	return n
}

// Check returns nil if slot on d can take one more booking, or the reason it
// cannot.
func (r Rules) Check(d calendar.Date, slot string, u Usage) error {
	switch {
	case !r.IsOperatingDay(d):
		return ErrClosedDay
	case !r.IsKnownSlot(slot):
		return ErrUnknownSlot
	case r.Available(d, u) == 0:
		return ErrDayFull
	}
	if _, taken := u.Taken[slot]; taken {
		return domain.ErrSlotTaken
	}
	return nil
}

// WeekdayName is the persisted day-of-week label of a date.
func WeekdayName(d calendar.Date) string {
	return d.Weekday().String()
}
