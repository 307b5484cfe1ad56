package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSONDeliversDecodablePayload(t *testing.T) {
	bus := NewEventBus(nil)

	var got []*Event
	bus.Subscribe("zip.added", func(e *Event) error {
		got = append(got, e)
		return nil
	})

	require.NoError(t, bus.PublishJSON("zip.added", map[string]string{"zip": "33602"}))
	require.NoError(t, bus.PublishJSON("zip.removed", map[string]string{"zip": "33602"}))

	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	var body map[string]string
	require.NoError(t, got[0].Decode(&body))
	assert.Equal(t, "33602", body["zip"])
}

func TestHandlerFailuresDoNotStopOthers(t *testing.T) {
	bus := NewEventBus(nil)
	var order []string

	bus.Subscribe(AllEvents, func(*Event) error { order = append(order, "all"); return nil })
	bus.Subscribe("e", func(*Event) error { order = append(order, "err"); return errors.New("boom") })
	bus.Subscribe("e", func(*Event) error { order = append(order, "panic"); panic("bad handler") })
	bus.Subscribe("e", func(*Event) error { order = append(order, "ok"); return nil })

	assert.NotPanics(t, func() { bus.Publish(&Event{Type: "e"}) })
	assert.Equal(t, []string{"err", "panic", "ok", "all"}, order)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	var a, b int
	stopA := bus.Subscribe("e", func(*Event) error { a++; return nil })
	bus.Subscribe("e", func(*Event) error { b++; return nil })

	bus.Publish(&Event{Type: "e"})
	stopA()
	stopA()
	bus.Publish(&Event{Type: "e"})

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestNilBusAndBadPayload(t *testing.T) {
	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("anything", nil))

	bus := NewEventBus(nil)
	bus.Publish(&Event{Type: "unknown"})
	assert.Error(t, bus.PublishJSON("e", make(chan int)))
}

func TestNewBookingPayload(t *testing.T) {
	b := &models.Booking{
		ID:               7,
		ConfirmationCode: "CL123456",
		Date:             calendar.MustNew(2024, time.July, 16),
		TimeSlot:         "10:00 AM - 11:30 AM",
		DayOfWeek:        "Tuesday",
		Status:           models.StatusPending,
		TotalPrice:       models.Dollars(104),
		Customer:         &models.Customer{Email: "jane@example.com", FirstName: "Jane", LastName: "Doe"},
	}

	event, err := NewJSONEvent(EventBookingCreated, NewBookingPayload(b, "customer"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &raw))
	assert.Equal(t, "2024-07-16", raw["booking_date"])
	assert.Equal(t, 104.0, raw["total_price"])
	assert.Nil(t, raw["previous_date"])

	var decoded BookingEventPayload
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, int64(7), decoded.BookingID)
	assert.Equal(t, "Jane Doe", decoded.CustomerName)
	assert.Equal(t, "customer", decoded.ChangedBy)
}
