package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventBookingCreated       = "booking.created"
	EventBookingRescheduled   = "booking.rescheduled"
	EventBookingCancelled     = "booking.cancelled"
	EventBookingStatusChanged = "booking.status_changed"
)

// BookingEventPayload describes the booking snapshot sent to subscribers.
type BookingEventPayload struct {
	BookingID        int64         `json:"booking_id"`
	ConfirmationCode string        `json:"confirmation_code"`
	CustomerEmail    string        `json:"customer_email"`
	CustomerName     string        `json:"customer_name"`
	Date             calendar.Date `json:"booking_date"`
	TimeSlot         string        `json:"booking_time"`
	DayOfWeek        string        `json:"day_of_week"`
	Status           string        `json:"status"`
	TotalPrice       models.Money  `json:"total_price"`
	PreviousDate     calendar.Date `json:"previous_date"`
	PreviousTimeSlot string        `json:"previous_time,omitempty"`
	ChangedBy        string        `json:"changed_by,omitempty"`
}

// NewBookingPayload snapshots b. changedBy is "admin", "customer" or empty.
func NewBookingPayload(b *models.Booking, changedBy string) BookingEventPayload {
	p := BookingEventPayload{
		BookingID:        b.ID,
		ConfirmationCode: b.ConfirmationCode,
		Date:             b.Date,
		TimeSlot:         b.TimeSlot,
		DayOfWeek:        b.DayOfWeek,
		Status:           b.Status,
		TotalPrice:       b.TotalPrice,
		ChangedBy:        changedBy,
	}
	if b.Customer != nil {
		p.CustomerEmail = b.Customer.Email
		p.CustomerName = b.Customer.FullName()
	}
	return p
}

// Event is one published occurrence. Payload holds the JSON encoding of
// the publisher's value.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus is an in-process pub/sub. Handlers run synchronously, typed
// subscribers before AllEvents subscribers, each in subscription order. A
// handler that fails or panics is logged and the rest still run.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	logger *zerolog.Logger
}

// NewEventBus constructs an empty bus. logger may be nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subs: make(map[string][]subscription), logger: logger}
}

// Subscribe registers handler for eventType and returns a func that removes
// it again.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, s := range list {
			if s.id == id {
				b.subs[eventType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (b *EventBus) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	b.mu.RLock()
	handlers := make([]subscription, 0, len(b.subs[event.Type])+len(b.subs[AllEvents]))
	handlers = append(handlers, b.subs[event.Type]...)
	handlers = append(handlers, b.subs[AllEvents]...)
	b.mu.RUnlock()

	for _, s := range handlers {
		if err := b.call(s.handler, event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Str("event_id", event.ID).Msg("Event handler failed")
		}
	}
}

func (b *EventBus) call(h EventHandler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(event)
}

// PublishJSON encodes payload and publishes it. A nil bus drops the event.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	if b == nil {
		return nil
	}
	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
