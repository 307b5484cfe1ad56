package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"

	"cleanbook/internal/calendar"
	"cleanbook/internal/database"
	"cleanbook/internal/domain"
	"cleanbook/internal/events"
	"cleanbook/internal/metrics"
	"cleanbook/internal/models"
	"cleanbook/internal/notify"
	"cleanbook/internal/pricing"
	"cleanbook/internal/scheduling"
	"cleanbook/internal/servicearea"

	"github.com/rs/zerolog"
)

// ErrSameSlot is returned when a reschedule targets the booking's current
// date and slot.
var ErrSameSlot = fmt.Errorf("%w: booking is already scheduled for this date and time", domain.ErrConflict)

// ErrPriceChanged is returned when the client's total no longer matches the
// catalog.
var ErrPriceChanged = fmt.Errorf("%w: price has changed, please review your selection", domain.ErrValidation)

// BookingStore is the persistence the orchestrator needs.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking, capacity int) error
	RescheduleBooking(ctx context.Context, id int64, date calendar.Date, slot, dayOfWeek string, capacity int) error
	UpdateBookingStatus(ctx context.Context, id int64, status string) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*models.Booking, error)
	ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error)
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]*models.Customer, error)
}

// ZipChecker is the service-area gate.
type ZipChecker interface {
	IsServiceable(ctx context.Context, zip string) (servicearea.Result, error)
}

// Requester identifies who asks for a change. Admin bypasses the email
// check.
type Requester struct {
	Email string
	Admin bool
}

func (r Requester) actor() string {
	if r.Admin {
		return "admin"
	}
	return "customer"
}

// CreateRequest is a submitted booking. ExpectedTotal, when set, must equal
// the server-side price.
type CreateRequest struct {
	Customer            models.Customer  `json:"customer"`
	ZipCode             string           `json:"zip_code"`
	Selection           models.Selection `json:"selection"`
	Date                calendar.Date    `json:"booking_date"`
	TimeSlot            string           `json:"booking_time"`
	SpecialInstructions string           `json:"special_instructions"`
	ExpectedTotal       *models.Money    `json:"expected_total,omitempty"`
}

// Dependencies groups the collaborators of BookingService. Events, Sync and
// Notifier may be nil.
type Dependencies struct {
	Store    BookingStore
	Core     *scheduling.Core
	Pricing  *pricing.Engine
	Gate     ZipChecker
	Events   domain.EventPublisher
	Sync     domain.SyncWorker
	Notifier notify.Notifier
	Logger   *zerolog.Logger
}

type BookingService struct {
	store        BookingStore
	core         *scheduling.Core
	pricing      *pricing.Engine
	gate         ZipChecker
	eventBus     domain.EventPublisher
	sheetsWorker domain.SyncWorker
	notifier     notify.Notifier
	logger       *zerolog.Logger
	newCode      func() (string, error)
}

func NewBookingService(deps Dependencies) *BookingService {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingService{
		store:        deps.Store,
		core:         deps.Core,
		pricing:      deps.Pricing,
		gate:         deps.Gate,
		eventBus:     deps.Events,
		sheetsWorker: deps.Sync,
		notifier:     deps.Notifier,
		logger:       logger,
		newCode:      generateConfirmationCode,
	}
}

func (s *BookingService) Core() *scheduling.Core { return s.core }

func (s *BookingService) Pricing() *pricing.Engine { return s.pricing }

// Create validates and stores a new pending booking. Capacity and slot
// exclusivity are enforced again by the store inside one transaction, so
// the availability check here is only an early answer.
func (s *BookingService) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	b, err := s.create(ctx, req)
	metrics.IncBookingOp("create", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("code", b.ConfirmationCode).
		Str("date", b.Date.String()).
		Str("slot", b.TimeSlot).
		Msg("Booking created")

	s.publishEvent(events.EventBookingCreated, events.NewBookingPayload(b, "customer"))
	s.enqueueSync(ctx, b, models.SyncTaskUpsert)
	s.notify(ctx, notify.KindConfirmation, b)
	return b, nil
}

func (s *BookingService) create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	customer, zip, err := s.validateCustomer(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Date.IsZero() {
		return nil, domain.Invalid("booking_date", "is required")
	}
	if req.TimeSlot == "" {
		return nil, domain.Invalid("booking_time", "is required")
	}

	quote := s.pricing.Quote(req.Selection)
	if len(quote.Services) == 0 {
		return nil, domain.ErrDraftUnpriced
	}
	if req.ExpectedTotal != nil && *req.ExpectedTotal != quote.Total {
		return nil, ErrPriceChanged
	}

	if err := s.core.Check(ctx, req.Date, req.TimeSlot); err != nil {
		return nil, err
	}

	b := &models.Booking{
		Customer:            customer,
		Date:                req.Date,
		TimeSlot:            req.TimeSlot,
		DayOfWeek:           scheduling.WeekdayName(req.Date),
		TotalPrice:          quote.Total,
		Status:              models.StatusPending,
		ZipCode:             zip,
		SpecialInstructions: strings.TrimSpace(req.SpecialInstructions),
		Services:            quote.Services,
		Rooms:               quote.Rooms,
	}

	capacity := s.core.DailyCapacity(req.Date)
	for attempt := 0; attempt < models.ConfirmationAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate confirmation code: %w", err)
		}
		b.ConfirmationCode = code

		err = s.store.CreateBooking(ctx, b, capacity)
		if errors.Is(err, database.ErrDuplicateCode) {
			s.logger.Warn().Str("code", code).Int("attempt", attempt+1).Msg("Confirmation code collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, domain.ErrCodeExhausted
}

func (s *BookingService) validateCustomer(ctx context.Context, req CreateRequest) (*models.Customer, string, error) {
	c := req.Customer
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address = strings.TrimSpace(c.Address)
	c.UnitNumber = strings.TrimSpace(c.UnitNumber)
	c.City = strings.TrimSpace(c.City)
	c.State = strings.ToUpper(strings.TrimSpace(c.State))

	zip := strings.TrimSpace(req.ZipCode)
	if zip == "" {
		zip = strings.TrimSpace(c.ZipCode)
	}
	c.ZipCode = zip

	required := []struct{ field, value string }{
		{"email", c.Email},
		{"first_name", c.FirstName},
		{"last_name", c.LastName},
		{"phone", c.Phone},
		{"address", c.Address},
		{"city", c.City},
		{"state", c.State},
		{"zip_code", zip},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, "", domain.Invalid(r.field, "is required")
		}
	}
	if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != c.Email {
		return nil, "", domain.Invalid("email", "is not a valid email address")
	}
	if !servicearea.IsZip5(zip) {
		return nil, "", domain.Invalid("zip_code", "must be 5 digits")
	}
	if err := validateProperty(&c); err != nil {
		return nil, "", err
	}

	res, err := s.gate.IsServiceable(ctx, zip)
	if err != nil {
		return nil, "", domain.StoreError("service area lookup", err)
	}
	if !res.InArea {
		return nil, "", domain.ErrOutOfArea
	}
	return &c, zip, nil
}

// validateProperty keeps floors for houses and floor level for apartments.
func validateProperty(c *models.Customer) error {
	switch c.PropertyType {
	case "":
		if c.Floors != nil || c.FloorLevel != "" {
			return domain.Invalid("property_type", "is required when floors or floor level is set")
		}
	case models.PropertyHouse:
		if c.FloorLevel != "" {
			return domain.Invalid("floor_level", "only applies to apartments")
		}
		if c.Floors != nil && *c.Floors < 1 {
			return domain.Invalid("floors", "must be at least 1")
		}
	case models.PropertyApartment:
		if c.Floors != nil {
			return domain.Invalid("floors", "only applies to houses")
		}
		if c.FloorLevel != "" && c.FloorLevel != models.FloorLevelFirst && c.FloorLevel != models.FloorLevelHigher {
			return domain.Invalid("floor_level", "must be %q or %q", models.FloorLevelFirst, models.FloorLevelHigher)
		}
	default:
		return domain.Invalid("property_type", "must be %q or %q", models.PropertyHouse, models.PropertyApartment)
	}
	return nil
}

// Reschedule moves a pending booking to another date or slot. The stored
// date is read back and compared with the requested one.
func (s *BookingService) Reschedule(ctx context.Context, id int64, date calendar.Date, slot string, who Requester) (*models.Booking, error) {
	b, prev, err := s.reschedule(ctx, id, date, slot, who)
	metrics.IncBookingOp("reschedule", err)
	if err != nil {
		return nil, err
	}

	payload := events.NewBookingPayload(b, who.actor())
	payload.PreviousDate = prev.Date
	payload.PreviousTimeSlot = prev.TimeSlot
	s.publishEvent(events.EventBookingRescheduled, payload)
	s.enqueueSync(ctx, b, models.SyncTaskUpsert)
	s.notify(ctx, notify.KindStatusUpdate, b)
	return b, nil
}

func (s *BookingService) reschedule(ctx context.Context, id int64, date calendar.Date, slot string, who Requester) (*models.Booking, *models.Booking, error) {
	current, err := s.authorize(ctx, id, who)
	if err != nil {
		return nil, nil, err
	}
	if !current.IsPending() {
		return nil, nil, fmt.Errorf("%w (booking is %s)", domain.ErrNotPending, current.Status)
	}
	if date.IsZero() {
		return nil, nil, domain.Invalid("booking_date", "is required")
	}
	if date == current.Date && slot == current.TimeSlot {
		return nil, nil, ErrSameSlot
	}

	if date == current.Date {
		err = s.core.CheckExcluding(ctx, date, slot, current.ID)
	} else {
		err = s.core.Check(ctx, date, slot)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.RescheduleBooking(ctx, id, date, slot, scheduling.WeekdayName(date), s.core.DailyCapacity(date)); err != nil {
		return nil, nil, err
	}

	updated, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if updated.Date != date {
		s.logger.Error().
			Int64("booking_id", id).
			Str("requested", date.String()).
			Str("stored", updated.Date.String()).
			Msg("Rescheduled date does not match stored date")
		return nil, nil, domain.ErrDateMismatch
	}
	return updated, current, nil
}

// Cancel cancels a pending booking on behalf of its customer or an admin.
func (s *BookingService) Cancel(ctx context.Context, id int64, who Requester) (*models.Booking, error) {
	current, err := s.authorize(ctx, id, who)
	if err == nil && !current.CanTransition(models.StatusCancelled) {
		err = fmt.Errorf("%w (booking is %s)", domain.ErrNotPending, current.Status)
	}
	if err == nil {
		err = s.store.UpdateBookingStatus(ctx, id, models.StatusCancelled)
	}
	metrics.IncBookingOp("cancel", err)
	if err != nil {
		return nil, err
	}
	return s.afterStatusChange(ctx, id, events.EventBookingCancelled, notify.KindCancellation, who.actor())
}

// SetStatus is the admin transition to completed or cancelled. A booking
// that is already final is reported without touching the store.
func (s *BookingService) SetStatus(ctx context.Context, id int64, status string) (*models.Booking, error) {
	err := s.setStatus(ctx, id, status)
	metrics.IncBookingOp("set_status", err)
	if err != nil {
		return nil, err
	}
	return s.afterStatusChange(ctx, id, events.EventBookingStatusChanged, notify.KindStatusUpdate, "admin")
}

func (s *BookingService) setStatus(ctx context.Context, id int64, status string) error {
	if status != models.StatusCompleted && status != models.StatusCancelled {
		return domain.ErrInvalidStatus
	}
	current, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if current.IsFinal() {
		return domain.FinalizedError(current.Status)
	}
	return s.store.UpdateBookingStatus(ctx, id, status)
}

func (s *BookingService) afterStatusChange(ctx context.Context, id int64, event string, kind notify.Kind, actor string) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("booking_id", id).Str("status", b.Status).Str("by", actor).Msg("Booking status changed")

	s.publishEvent(event, events.NewBookingPayload(b, actor))
	s.enqueueSync(ctx, b, models.SyncTaskStatus)
	s.notify(ctx, kind, b)
	return b, nil
}

// LookupByConfirmation returns the booking for code if it belongs to email.
// A wrong email and an unknown code are indistinguishable.
func (s *BookingService) LookupByConfirmation(ctx context.Context, code, email string) (*models.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	email = strings.TrimSpace(email)
	if code == "" || email == "" {
		return nil, domain.ErrUnauthorized
	}

	b, err := s.store.GetBookingByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !ownedBy(b, email) {
		return nil, domain.ErrUnauthorized
	}
	return b, nil
}

// History lists the bookings of the customer behind email. The caller proves
// ownership with one of that customer's confirmation codes, so an unknown
// email is indistinguishable from a wrong code.
func (s *BookingService) History(ctx context.Context, email, code string) ([]*models.Booking, error) {
	b, err := s.LookupByConfirmation(ctx, code, email)
	if err != nil {
		return nil, err
	}
	customer, err := s.store.GetCustomerByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if customer.ID != b.CustomerID {
		return nil, domain.ErrUnauthorized
	}
	return s.store.ListBookings(ctx, models.BookingFilter{CustomerID: customer.ID})
}

// CustomerHistory is the admin view of one customer.
type CustomerHistory struct {
	Customer *models.Customer  `json:"customer"`
	Bookings []*models.Booking `json:"bookings"`
}

func (s *BookingService) Customers(ctx context.Context, limit int) ([]*models.Customer, error) {
	if limit < 0 || limit > models.DefaultListLimit {
		return nil, domain.Invalid("limit", "must be between 1 and %d", models.DefaultListLimit)
	}
	return s.store.ListCustomers(ctx, limit)
}

func (s *BookingService) Customer(ctx context.Context, id int64) (*CustomerHistory, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	bookings, err := s.store.ListBookings(ctx, models.BookingFilter{CustomerID: c.ID})
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	return &CustomerHistory{Customer: c, Bookings: bookings}, nil
}

func (s *BookingService) Get(ctx context.Context, id int64) (*models.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

func (s *BookingService) List(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	if f.Status != "" && !models.IsValidStatus(f.Status) {
		return nil, domain.Invalid("status", "unknown status %q", f.Status)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, domain.Invalid("to", "must not be before from")
	}
	return s.store.ListBookings(ctx, f)
}

// authorize loads the booking and checks the requester may change it.
// Customers get ErrUnauthorized for a missing booking too.
func (s *BookingService) authorize(ctx context.Context, id int64, who Requester) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && !who.Admin {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}
	if !who.Admin && !ownedBy(b, who.Email) {
		return nil, domain.ErrUnauthorized
	}
	return b, nil
}

func ownedBy(b *models.Booking, email string) bool {
	email = strings.TrimSpace(email)
	return b.Customer != nil && email != "" && strings.EqualFold(b.Customer.Email, email)
}

func (s *BookingService) publishEvent(eventType string, payload events.BookingEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", payload.BookingID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, b *models.Booking, taskType string) {
	if s.sheetsWorker == nil {
		return
	}

	var status string
	if taskType == models.SyncTaskStatus {
		status = b.Status
	}
	if err := s.sheetsWorker.EnqueueTask(ctx, taskType, b.ID, b, status); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", b.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}

// notify never fails the operation.
func (s *BookingService) notify(ctx context.Context, kind notify.Kind, b *models.Booking) {
	if s.notifier == nil {
		return
	}
	res, err := s.notifier.Notify(ctx, kind, b)
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", string(kind)).Int64("booking_id", b.ID).Msg("Notification failed")
		return
	}
	s.logger.Debug().Str("kind", string(kind)).Bool("sent", res.Sent).Str("channel", res.Channel).Msg("Notification dispatched")
}

var codeSpace = big.NewInt(1_000_000)

func generateConfirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%0*d", models.ConfirmationPrefix, models.ConfirmationDigits, n.Int64()), nil
}
