package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/models"

	"github.com/rs/zerolog"
)

// BookingLister is the read side the reminder needs.
type BookingLister interface {
	GetBookingsByDateRange(ctx context.Context, from, to calendar.Date) ([]*models.Booking, error)
}

// TextSender posts a plain message to the admin channel.
type TextSender interface {
	SendText(text string) error
}

// Reminder sends the admin a digest of tomorrow's pending bookings once a
// day at the configured local time.
type Reminder struct {
	bookings BookingLister
	sender   TextSender
	hour     int
	minute   int
	loc      *time.Location
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewReminder parses at as "HH:MM" in loc.
func NewReminder(bookings BookingLister, sender TextSender, at string, loc *time.Location, logger *zerolog.Logger) (*Reminder, error) {
	var hour, minute int
	if at == "" {
		hour = models.ReminderHour
	} else if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid reminder time %q", at)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Reminder{
		bookings: bookings,
		sender:   sender,
		hour:     hour,
		minute:   minute,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start runs the daily loop until ctx is done.
func (r *Reminder) Start(ctx context.Context) {
	timer := time.NewTimer(r.untilNext(r.now()))
	defer timer.Stop()

	r.logger.Info().Int("hour", r.hour).Int("minute", r.minute).Msg("Daily reminder scheduled")
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			tomorrow := calendar.Today(r.loc).AddDays(1)
			if _, err := r.SendDigest(ctx, tomorrow); err != nil {
				r.logger.Error().Err(err).Str("date", tomorrow.String()).Msg("reminder: send digest error")
			}
			timer.Reset(r.untilNext(r.now()))
		}
	}
}

// SendDigest posts the pending bookings on day and returns how many were
// listed. Nothing is sent for an empty day.
func (r *Reminder) SendDigest(ctx context.Context, day calendar.Date) (int, error) {
	bookings, err := r.bookings.GetBookingsByDateRange(ctx, day, day)
	if err != nil {
		return 0, fmt.Errorf("get bookings: %w", err)
	}

	var pending []*models.Booking
	for _, b := range bookings {
		if b.IsPending() {
			pending = append(pending, b)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	if err := r.sender.SendText(formatDigest(day, pending)); err != nil {
		return 0, err
	}
	return len(pending), nil
}

func formatDigest(day calendar.Date, bookings []*models.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tomorrow, %s %s: %d booking(s)\n", day.Weekday(), day, len(bookings))
	for _, b := range bookings {
		name, phone := "", ""
		if b.Customer != nil {
			name, phone = b.Customer.FullName(), b.Customer.Phone
		}
		fmt.Fprintf(&sb, "\n%s  %s  %s", b.TimeSlot, b.ConfirmationCode, name)
		if phone != "" {
			fmt.Fprintf(&sb, "  %s", phone)
		}
		if b.Customer != nil && b.Customer.Address != "" {
			fmt.Fprintf(&sb, "\n    %s, %s", b.Customer.Address, b.Customer.City)
		}
	}
	return sb.String()
}

func (r *Reminder) untilNext(now time.Time) time.Duration {
	now = now.In(r.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), r.hour, r.minute, 0, 0, r.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
