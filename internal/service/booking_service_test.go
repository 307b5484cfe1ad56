package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/database"
	"cleanbook/internal/domain"
	"cleanbook/internal/events"
	"cleanbook/internal/models"
	"cleanbook/internal/notify"
	"cleanbook/internal/pricing"
	"cleanbook/internal/scheduling"
	"cleanbook/internal/servicearea"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	july16 = calendar.MustNew(2024, time.July, 16) // Tuesday
	july17 = calendar.MustNew(2024, time.July, 17)
	july15 = calendar.MustNew(2024, time.July, 15) // Monday, closed
)

const (
	slotA = "10:00 AM - 11:30 AM"
	slotB = "11:30 AM - 1:00 PM"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, kind notify.Kind, b *models.Booking) (notify.Result, error) {
	args := m.Called(ctx, kind, b)
	return args.Get(0).(notify.Result), args.Error(1)
}

type mockSync struct {
	mock.Mock
}

func (m *mockSync) EnqueueTask(ctx context.Context, taskType string, bookingID int64, b *models.Booking, status string) error {
	return m.Called(ctx, taskType, bookingID, b, status).Error(0)
}

type fixture struct {
	db       *database.DB
	svc      *BookingService
	bus      *events.EventBus
	notifier *mockNotifier
	sync     *mockSync
	received []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gate := servicearea.NewGate(db, &logger)
	require.NoError(t, gate.Put(context.Background(), models.ServiceAreaZip{ZipCode: "33602", City: "Tampa", State: "FL"}))

	f := &fixture{db: db, bus: events.NewEventBus(&logger), notifier: &mockNotifier{}, sync: &mockSync{}}
	for _, typ := range []string{events.EventBookingCreated, events.EventBookingRescheduled, events.EventBookingCancelled, events.EventBookingStatusChanged} {
		typ := typ
		f.bus.Subscribe(typ, func(e *events.Event) error {
			f.received = append(f.received, typ)
			return nil
		})
	}
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(notify.Result{Channel: "email"}, nil)
	f.sync.On("EnqueueTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f.svc = NewBookingService(Dependencies{
		Store:    db,
		Core:     scheduling.NewCore(scheduling.DefaultRules(), db),
		Pricing:  pricing.NewEngine(nil),
		Gate:     gate,
		Events:   f.bus,
		Sync:     f.sync,
		Notifier: f.notifier,
		Logger:   &logger,
	})
	return f
}

var emailSeq int

func request(date calendar.Date, slot string) CreateRequest {
	emailSeq++
	return CreateRequest{
		Customer: models.Customer{
			Email:     "customer" + string(rune('a'+emailSeq%26)) + "@example.com",
			FirstName: "Jane",
			LastName:  "Doe",
			Phone:     "813-555-0100",
			Address:   "1 Main St",
			City:      "Tampa",
			State:     "fl",
		},
		ZipCode: "33602",
		Selection: models.Selection{
			Services: []string{"carpet"},
			Rooms: []models.RoomSelection{
				{ServiceID: "carpet", RoomID: "bedroom", Count: 5},
				{ServiceID: "carpet", RoomID: "hallway", Count: 1},
			},
		},
		Date:     date,
		TimeSlot: slot,
	}
}

func TestCreate_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request(july16, slotA)
	req.Customer.Email = "Jane@Example.com"
	b, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	assert.NotZero(t, b.ID)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, models.Dollars(104), b.TotalPrice)
	assert.Regexp(t, regexp.MustCompile(`^CL\d{6}$`), b.ConfirmationCode)
	assert.Equal(t, "Tuesday", b.DayOfWeek)
	assert.Equal(t, "FL", b.Customer.State)

	stored, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, july16, stored.Date)
	assert.Equal(t, slotA, stored.TimeSlot)
	assert.Equal(t, "jane@example.com", stored.Customer.Email)
	assert.Len(t, stored.Rooms, 2)

	assert.Equal(t, []string{events.EventBookingCreated}, f.received)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.KindConfirmation, mock.Anything)
	f.sync.AssertCalled(t, "EnqueueTask", mock.Anything, models.SyncTaskUpsert, b.ID, mock.Anything, "")

	avail, err := f.svc.Core().AvailableSlots(ctx, july16)
	require.NoError(t, err)
	assert.Equal(t, 4, avail)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(r *CreateRequest){
		"missing email":     func(r *CreateRequest) { r.Customer.Email = "" },
		"bad email":         func(r *CreateRequest) { r.Customer.Email = "not-an-email" },
		"missing phone":     func(r *CreateRequest) { r.Customer.Phone = " " },
		"short zip":         func(r *CreateRequest) { r.ZipCode = "3360" },
		"missing date":      func(r *CreateRequest) { r.Date = calendar.Date{} },
		"missing slot":      func(r *CreateRequest) { r.TimeSlot = "" },
		"unknown slot":      func(r *CreateRequest) { r.TimeSlot = "9:00 PM - 10:00 PM" },
		"closed day":        func(r *CreateRequest) { r.Date = july15 },
		"no services":       func(r *CreateRequest) { r.Selection.Services = nil },
		"bad property":      func(r *CreateRequest) { r.Customer.PropertyType = "boat" },
		"house floor level": func(r *CreateRequest) { r.Customer.PropertyType = models.PropertyHouse; r.Customer.FloorLevel = models.FloorLevelFirst },
		"apartment floors": func(r *CreateRequest) {
			n := 2
			r.Customer.PropertyType = models.PropertyApartment
			r.Customer.Floors = &n
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request(july16, slotA)
			mutate(&req)
			_, err := f.svc.Create(ctx, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	t.Run("out of area", func(t *testing.T) {
		req := request(july16, slotA)
		req.ZipCode = "90210"
		_, err := f.svc.Create(ctx, req)
		assert.ErrorIs(t, err, domain.ErrOutOfArea)
	})

	t.Run("price changed", func(t *testing.T) {
		req := request(july16, slotA)
		stale := models.Dollars(99)
		req.ExpectedTotal = &stale
		_, err := f.svc.Create(ctx, req)
		assert.ErrorIs(t, err, ErrPriceChanged)
	})

	t.Run("property ok", func(t *testing.T) {
		req := request(july16, slotB)
		n := 2
		req.Customer.PropertyType = models.PropertyHouse
		req.Customer.Floors = &n
		_, err := f.svc.Create(ctx, req)
		assert.NoError(t, err)
	})
}

func TestCreate_CapacityAndSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, slot := range scheduling.DefaultSlots {
		_, err := f.svc.Create(ctx, request(july16, slot))
		require.NoError(t, err)
	}

	_, err := f.svc.Create(ctx, request(july16, slotA))
	assert.ErrorIs(t, err, domain.ErrNotAvailable)

	_, err = f.svc.Create(ctx, request(july17, slotA))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, request(july17, slotA))
	assert.ErrorIs(t, err, domain.ErrSlotTaken)
}

func TestCreate_CodeCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.newCode = func() (string, error) { return "CL000001", nil }
	_, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, request(july16, slotB))
	assert.ErrorIs(t, err, domain.ErrCodeExhausted)

	codes := []string{"CL000001", "CL000001", "CL000002"}
	f.svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	b, err := f.svc.Create(ctx, request(july16, slotB))
	require.NoError(t, err)
	assert.Equal(t, "CL000002", b.ConfirmationCode)

	avail, err := f.svc.Core().AvailableSlots(ctx, july16)
	require.NoError(t, err)
	assert.Equal(t, 3, avail, "failed attempts must not hold capacity")
}

func TestCreate_NotificationFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.notifier.ExpectedCalls = nil
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(notify.Result{}, errors.New("smtp down"))

	b, err := f.svc.Create(context.Background(), request(july16, slotA))
	require.NoError(t, err)
	assert.NotZero(t, b.ID)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)
	owner := Requester{Email: b.Customer.Email}

	_, err = f.svc.Reschedule(ctx, b.ID, july17, slotA, Requester{Email: "someone@else.com"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.Reschedule(ctx, 9999, july17, slotA, owner)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.svc.Reschedule(ctx, 9999, july17, slotA, Requester{Admin: true})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Reschedule(ctx, b.ID, july16, slotA, owner)
	assert.ErrorIs(t, err, ErrSameSlot)

	_, err = f.svc.Reschedule(ctx, b.ID, july15, slotA, owner)
	assert.ErrorIs(t, err, scheduling.ErrClosedDay)

	moved, err := f.svc.Reschedule(ctx, b.ID, july16, slotB, owner)
	require.NoError(t, err)
	assert.Equal(t, slotB, moved.TimeSlot)

	moved, err = f.svc.Reschedule(ctx, b.ID, july17, slotA, owner)
	require.NoError(t, err)
	assert.Equal(t, july17, moved.Date)
	assert.Equal(t, "Wednesday", moved.DayOfWeek)
	assert.Equal(t, b.ConfirmationCode, moved.ConfirmationCode)
	assert.Equal(t, models.StatusPending, moved.Status)

	n16, _ := f.svc.Core().AvailableSlots(ctx, july16)
	n17, _ := f.svc.Core().AvailableSlots(ctx, july17)
	assert.Equal(t, 5, n16)
	assert.Equal(t, 4, n17)
	assert.Contains(t, f.received, events.EventBookingRescheduled)
}

func TestReschedule_TerminalRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, b.ID, models.StatusCompleted)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, b.ID, july17, slotA, Requester{Admin: true})
	assert.ErrorIs(t, err, domain.ErrNotPending)

	stored, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, july16, stored.Date)
	assert.Equal(t, b.ConfirmationCode, stored.ConfirmationCode)
}

type mismatchStore struct {
	BookingStore
}

func (m mismatchStore) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := m.BookingStore.GetBooking(ctx, id)
	if err == nil && b.Date != july16 {
		b.Date = b.Date.AddDays(-1)
	}
	return b, err
}

func TestReschedule_DateMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)

	f.svc.store = mismatchStore{f.db}
	_, err = f.svc.Reschedule(ctx, b.ID, july17, slotA, Requester{Admin: true})
	assert.ErrorIs(t, err, domain.ErrDateMismatch)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, b.ID, Requester{Email: "wrong@example.com"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	before, _ := f.svc.Core().AvailableSlots(ctx, july16)
	cancelled, err := f.svc.Cancel(ctx, b.ID, Requester{Email: b.Customer.Email})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	after, _ := f.svc.Core().AvailableSlots(ctx, july16)
	assert.Equal(t, before+1, after)

	_, err = f.svc.Cancel(ctx, b.ID, Requester{Email: b.Customer.Email})
	assert.ErrorIs(t, err, domain.ErrNotPending)

	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.KindCancellation, mock.Anything)
	f.sync.AssertCalled(t, "EnqueueTask", mock.Anything, models.SyncTaskStatus, b.ID, mock.Anything, models.StatusCancelled)

	// The freed slot can be booked again.
	_, err = f.svc.Create(ctx, request(july16, slotA))
	assert.NoError(t, err)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, b.ID, models.StatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	done, err := f.svc.SetStatus(ctx, b.ID, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	_, err = f.svc.SetStatus(ctx, b.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, domain.ErrFinalized)

	stored, _ := f.svc.Get(ctx, b.ID)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	_, err = f.svc.SetStatus(ctx, 9999, models.StatusCompleted)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.notifier.AssertCalled(t, "Notify", mock.Anything, notify.KindStatusUpdate, mock.Anything)
	assert.Contains(t, f.received, events.EventBookingStatusChanged)
}

func TestLookupByConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)

	found, err := f.svc.LookupByConfirmation(ctx, " "+b.ConfirmationCode+" ", b.Customer.Email)
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)

	_, err = f.svc.LookupByConfirmation(ctx, b.ConfirmationCode, "other@example.com")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.LookupByConfirmation(ctx, "CL999999", b.Customer.Email)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSetStatus_FinalBookingSkipsStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, b.ID, Requester{Admin: true})
	require.NoError(t, err)

	store := &countingStore{BookingStore: f.db}
	f.svc.store = store
	_, err = f.svc.SetStatus(ctx, b.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, domain.ErrFinalized)
	assert.Zero(t, store.updates)
}

type countingStore struct {
	BookingStore
	updates int
}

func (c *countingStore) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	c.updates++
	return c.BookingStore.UpdateBookingStatus(ctx, id, status)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := request(july16, slotA)
	req.Customer.Email = "history@example.com"
	first, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	req.Date = july17
	second, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	stranger, err := f.svc.Create(ctx, request(july17, slotB))
	require.NoError(t, err)

	got, err := f.svc.History(ctx, " History@Example.com ", second.ConfirmationCode)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)

	for name, tc := range map[string]struct{ email, code string }{
		"code of another customer": {"history@example.com", stranger.ConfirmationCode},
		"unknown email":            {"nobody@example.com", first.ConfirmationCode},
		"unknown code":             {"history@example.com", "CL999999"},
		"missing code":             {"history@example.com", ""},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.History(ctx, tc.email, tc.code)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)

	list, err := f.svc.Customers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.CustomerID, list[0].ID)

	_, err = f.svc.Customers(ctx, models.DefaultListLimit+1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	view, err := f.svc.Customer(ctx, b.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, b.Customer.Email, view.Customer.Email)
	require.Len(t, view.Bookings, 1)
	assert.Equal(t, b.ID, view.Bookings[0].ID)

	_, err = f.svc.Customer(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, request(july16, slotA))
	require.NoError(t, err)
	b2, err := f.svc.Create(ctx, request(july17, slotA))
	require.NoError(t, err)
	_, err = f.svc.SetStatus(ctx, b2.ID, models.StatusCompleted)
	require.NoError(t, err)

	all, err := f.svc.List(ctx, models.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := f.svc.List(ctx, models.BookingFilter{Status: models.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, b2.ID, completed[0].ID)

	_, err = f.svc.List(ctx, models.BookingFilter{Status: "lost"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.List(ctx, models.BookingFilter{From: july17, To: july16})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGenerateConfirmationCode(t *testing.T) {
	re := regexp.MustCompile(`^CL\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := generateConfirmationCode()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}
