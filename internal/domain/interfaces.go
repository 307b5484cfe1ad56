package domain

import (
	"context"
	"time"

	"cleanbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DraftRepository holds unfinished bookings between steps of the booking
// flow. A missing or expired draft is reported as (nil, nil).
type DraftRepository interface {
	SaveDraft(ctx context.Context, draft *models.Draft) error
	GetDraft(ctx context.Context, id string) (*models.Draft, error)
	DeleteDraft(ctx context.Context, id string) error

	// CheckRateLimit counts one hit against key and reports whether the
	// caller is still within limit for the current window.
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// EventPublisher fans booking lifecycle events out to in-process listeners.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// SyncWorker queues a spreadsheet mirror update for a booking. status is
// only read for status-change tasks.
type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking, status string) error
}

// SheetsWriter is the spreadsheet side of the mirror.
type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error
}

// TelegramSender is the subset of the bot API used for admin alerts.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
