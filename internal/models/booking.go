package models

import (
	"time"

	"cleanbook/internal/calendar"
)

type Booking struct {
	ID                  int64         `json:"id"`
	CustomerID          int64         `json:"customer_id"`
	Customer            *Customer     `json:"customer,omitempty"`
	Date                calendar.Date `json:"booking_date"`
	TimeSlot            string        `json:"booking_time"`
	DayOfWeek           string        `json:"day_of_week"`
	TotalPrice          Money         `json:"total_price"`
	Status              string        `json:"status"` // pending, completed, cancelled
	ZipCode             string        `json:"zip_code"`
	SpecialInstructions string        `json:"special_instructions"`
	ConfirmationCode    string        `json:"confirmation_code"`
	Services            []BookingLine `json:"services,omitempty"`
	Rooms               []BookingLine `json:"rooms,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// BookingLine is a booking_services or booking_rooms row. Price is the
// snapshot taken when the booking was made.
type BookingLine struct {
	ID        int64  `json:"id,omitempty"`
	BookingID int64  `json:"booking_id,omitempty"`
	ServiceID string `json:"service_id,omitempty"`
	RoomType  string `json:"room_type,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     Money  `json:"price"`
}

func (b *Booking) IsPending() bool { return b.Status == StatusPending }

func (b *Booking) IsFinal() bool {
	return b.Status == StatusCompleted || b.Status == StatusCancelled
}

// CanTransition reports whether status may move from b.Status to next.
func (b *Booking) CanTransition(next string) bool {
	if b.Status != StatusPending {
		return false
	}
	return next == StatusCompleted || next == StatusCancelled
}

// BookingFilter narrows ListBookings. Search matches the customer's name,
// email or the confirmation code, ignoring case.
type BookingFilter struct {
	From       calendar.Date
	To         calendar.Date
	Status     string
	CustomerID int64
	Search     string
	Limit      int
	Offset     int
}
