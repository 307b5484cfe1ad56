package models

import "time"

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// IsValidStatus reports whether s is a known booking status.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

const (
	PropertyHouse     = "house"
	PropertyApartment = "apartment"

	FloorLevelFirst  = "1st"
	FloorLevelHigher = "2nd-or-higher"
)

const (
	// ConfirmationPrefix starts every customer-facing confirmation code.
	ConfirmationPrefix = "CL"

	// ConfirmationDigits follow the prefix.
	ConfirmationDigits = 6

	// ConfirmationAttempts bounds regeneration on a code collision.
	ConfirmationAttempts = 5
)

const (
	// DefaultDraftTTL is how long an untouched draft survives.
	DefaultDraftTTL = 24 * time.Hour

	// DefaultDailyCapacity is the number of bookings per operating day.
	DefaultDailyCapacity = 5

	// RateLimitDrafts is the number of drafts a client may start per window.
	RateLimitDrafts = 30

	// RateLimitWindow is the draft rate-limit window.
	RateLimitWindow = time.Minute

	// WorkerQueueSize is the in-memory sync queue size.
	WorkerQueueSize = 1000

	// DefaultListLimit caps admin booking lists.
	DefaultListLimit = 100

	// SheetsCacheTTL is the lifetime of the Sheets row-index cache.
	SheetsCacheTTL = time.Hour

	// ReminderHour is the local hour of the daily schedule digest.
	ReminderHour = 18
)
