package service

import (
	"context"
	"strings"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/domain"
	"cleanbook/internal/models"
	"cleanbook/internal/servicearea"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DraftService carries a booking through the multi-step flow. Every step
// loads the draft by id, changes it and stores it again with a fresh TTL.
type DraftService struct {
	repo     domain.DraftRepository
	bookings *BookingService
	gate     ZipChecker
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewDraftService(repo domain.DraftRepository, bookings *BookingService, gate ZipChecker, logger *zerolog.Logger) *DraftService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &DraftService{repo: repo, bookings: bookings, gate: gate, logger: logger, now: time.Now}
}

// Start opens a draft for a serviceable ZIP. clientKey identifies the
// caller for rate limiting; an empty key is not limited.
func (s *DraftService) Start(ctx context.Context, clientKey, zip string) (*models.Draft, error) {
	if clientKey != "" {
		allowed, err := s.repo.CheckRateLimit(ctx, "drafts:"+clientKey, models.RateLimitDrafts, models.RateLimitWindow)
		if err != nil {
			s.logger.Warn().Err(err).Str("client", clientKey).Msg("Rate limit check failed, allowing request")
		} else if !allowed {
			return nil, domain.ErrRateLimited
		}
	}

	zip = strings.TrimSpace(zip)
	if !servicearea.IsZip5(zip) {
		return nil, domain.Invalid("zip_code", "must be 5 digits")
	}
	res, err := s.gate.IsServiceable(ctx, zip)
	if err != nil {
		return nil, domain.StoreError("service area lookup", err)
	}
	if !res.InArea {
		return nil, domain.ErrOutOfArea
	}

	now := s.now().UTC()
	d := &models.Draft{
		ID:        uuid.NewString(),
		ZipCode:   zip,
		City:      res.City,
		State:     res.State,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.SaveDraft(ctx, d); err != nil {
		return nil, domain.StoreError("save draft", err)
	}
	s.logger.Debug().Str("draft_id", d.ID).Str("zip", zip).Msg("Draft started")
	return d, nil
}

func (s *DraftService) Get(ctx context.Context, id string) (*models.Draft, error) {
	d, err := s.repo.GetDraft(ctx, id)
	if err != nil {
		return nil, domain.StoreError("get draft", err)
	}
	if d == nil {
		return nil, domain.ErrDraftNotFound
	}
	return d, nil
}

// SelectServices replaces the selected services. Room counters of services
// that are no longer selected are dropped.
func (s *DraftService) SelectServices(ctx context.Context, id string, services []string) (*models.Draft, error) {
	catalog := s.bookings.Pricing().Catalog()
	seen := make(map[string]bool, len(services))
	selected := make([]string, 0, len(services))
	for _, sid := range services {
		sid = strings.TrimSpace(sid)
		if _, ok := catalog.Service(sid); !ok {
			return nil, domain.Invalid("services", "unknown service %q", sid)
		}
		if !seen[sid] {
			seen[sid] = true
			selected = append(selected, sid)
		}
	}

	return s.update(ctx, id, func(d *models.Draft) error {
		rooms := make([]models.RoomSelection, 0, len(d.Selection.Rooms))
		for _, r := range d.Selection.Rooms {
			if seen[r.ServiceID] {
				rooms = append(rooms, r)
			}
		}
		d.Selection = models.Selection{Services: selected, Rooms: rooms}
		return nil
	})
}

// SetRoom sets one room counter. A zero count removes it.
func (s *DraftService) SetRoom(ctx context.Context, id, serviceID, roomID string, count int, active bool) (*models.Draft, error) {
	if _, ok := s.bookings.Pricing().Catalog().Room(serviceID, roomID); !ok {
		return nil, domain.Invalid("room_id", "unknown room %q for service %q", roomID, serviceID)
	}
	if count < 0 {
		return nil, domain.Invalid("count", "must not be negative")
	}

	return s.update(ctx, id, func(d *models.Draft) error {
		if !containsString(d.Selection.Services, serviceID) {
			return domain.Invalid("service_id", "service %q is not selected", serviceID)
		}
		rooms := make([]models.RoomSelection, 0, len(d.Selection.Rooms)+1)
		for _, r := range d.Selection.Rooms {
			if r.ServiceID == serviceID && r.RoomID == roomID {
				continue
			}
			rooms = append(rooms, r)
		}
		if count > 0 {
			rooms = append(rooms, models.RoomSelection{ServiceID: serviceID, RoomID: roomID, Count: count, Active: active})
		}
		d.Selection = models.Selection{
			Services: append([]string(nil), d.Selection.Services...),
			Rooms:    rooms,
		}
		return nil
	})
}

// Schedule picks the date and slot after checking they can be booked.
func (s *DraftService) Schedule(ctx context.Context, id string, date calendar.Date, slot string) (*models.Draft, error) {
	if date.IsZero() {
		return nil, domain.Invalid("date", "is required")
	}
	if err := s.bookings.Core().Check(ctx, date, slot); err != nil {
		return nil, err
	}
	return s.update(ctx, id, func(d *models.Draft) error {
		d.Date = date
		d.TimeSlot = slot
		return nil
	})
}

// Submit turns the draft into a booking and discards it.
func (s *DraftService) Submit(ctx context.Context, id string, customer models.Customer, instructions string) (*models.Booking, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(d.Selection.Services) == 0 {
		return nil, domain.ErrDraftUnpriced
	}
	if !d.Scheduled() {
		return nil, domain.ErrDraftUnplanned
	}
	if customer.City == "" {
		customer.City = d.City
	}
	if customer.State == "" {
		customer.State = d.State
	}

	total := d.Total
	b, err := s.bookings.Create(ctx, CreateRequest{
		Customer:            customer,
		ZipCode:             d.ZipCode,
		Selection:           d.Selection,
		Date:                d.Date,
		TimeSlot:            d.TimeSlot,
		SpecialInstructions: instructions,
		ExpectedTotal:       &total,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.DeleteDraft(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("draft_id", id).Msg("Failed to delete submitted draft")
	}
	return b, nil
}

func (s *DraftService) Reset(ctx context.Context, id string) error {
	if err := s.repo.DeleteDraft(ctx, id); err != nil {
		return domain.StoreError("delete draft", err)
	}
	return nil
}

// update applies fn to the stored draft, reprices it and saves it.
func (s *DraftService) update(ctx context.Context, id string, fn func(d *models.Draft) error) (*models.Draft, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	d.Total = s.bookings.Pricing().Price(d.Selection)
	d.UpdatedAt = s.now().UTC()
	if err := s.repo.SaveDraft(ctx, d); err != nil {
		return nil, domain.StoreError("save draft", err)
	}
	return d, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
