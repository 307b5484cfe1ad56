package models

import (
	"time"

	"cleanbook/internal/calendar"
)

// RoomSelection is one counter in the service configuration step. Active only
// matters for square-footage lines, which are staged before they are priced.
type RoomSelection struct {
	ServiceID string `json:"service_id"`
	RoomID    string `json:"room_id"`
	Count     int    `json:"count"`
	Active    bool   `json:"active"`
}

// Selection is the priced part of a booking request.
type Selection struct {
	Services []string        `json:"services"`
	Rooms    []RoomSelection `json:"rooms"`
}

// Draft is an in-progress booking carried across the steps of the booking
// flow. It is created when the ZIP is accepted and discarded on submit or
// reset.
type Draft struct {
	ID        string        `json:"id"`
	ZipCode   string        `json:"zip_code"`
	City      string        `json:"city"`
	State     string        `json:"state"`
	Selection Selection     `json:"selection"`
	Total     Money         `json:"total"`
	Date      calendar.Date `json:"date"`
	TimeSlot  string        `json:"time_slot"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Scheduled reports whether both date and slot were chosen.
func (d *Draft) Scheduled() bool { return !d.Date.IsZero() && d.TimeSlot != "" }

// DayAvailability is one cell of the month calendar.
type DayAvailability struct {
	Date        calendar.Date `json:"date"`
	DayOfWeek   string        `json:"day_of_week"`
	Operating   bool          `json:"operating"`
	Capacity    int           `json:"capacity"`
	Booked      int           `json:"booked"`
	Available   int           `json:"available"`
	FullyBooked bool          `json:"fully_booked"`
}

// SlotAvailability is one time window on a given date.
type SlotAvailability struct {
	Label     string `json:"label"`
	Available bool   `json:"available"`
}
