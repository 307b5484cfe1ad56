package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeekdaySet is a set of days of the week.
type WeekdaySet uint8

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// DefaultOperatingDays is Tuesday through Saturday.
var DefaultOperatingDays = NewWeekdaySet(time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (s WeekdaySet) String() string {
	names := make([]string, 0, 7)
	for _, d := range s.Days() {
		names = append(names, d.String()[:3])
	}
	return strings.Join(names, ",")
}

// ParseWeekdays accepts full names, three-letter abbreviations or numbers
// (0 = Sunday) in any case.
func ParseWeekdays(values []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, v := range values {
		d, err := parseWeekday(v)
		if err != nil {
			return 0, err
		}
		s |= NewWeekdaySet(d)
	}
	return s, nil
}

func parseWeekday(v string) (time.Weekday, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday %d out of range", n)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || (len(v) == 3 && strings.HasPrefix(name, v)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", v)
}
