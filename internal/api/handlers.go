package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/domain"
	"cleanbook/internal/export"
	"cleanbook/internal/models"
	"cleanbook/internal/service"
	"cleanbook/internal/servicearea"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleZip(w http.ResponseWriter, r *http.Request) {
	zip := strings.TrimSpace(mux.Vars(r)["zip"])
	if !servicearea.IsZip5(zip) {
		s.fail(w, r, domain.Invalid("zip_code", "must be 5 digits"))
		return
	}
	res, err := s.zips.IsServiceable(r.Context(), zip)
	if err != nil {
		s.fail(w, r, domain.StoreError("service area lookup", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"zip_code": zip,
		"in_area":  res.InArea,
		"city":     res.City,
		"state":    res.State,
	})
}

func (s *HTTPServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c := s.bookings.Pricing().Catalog()
	if id := strings.TrimSpace(r.URL.Query().Get("service")); id != "" {
		svc, ok := c.Service(id)
		if !ok {
			s.fail(w, r, fmt.Errorf("%w: service %q", domain.ErrNotFound, id))
			return
		}
		rooms := c.RoomsFor(id)
		if rooms == nil {
			rooms = []models.RoomType{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"service":    svc,
			"room_types": rooms,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"services":   c.Services,
		"room_types": c.RoomTypes,
	})
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	var sel models.Selection
	if err := decodeJSON(r, &sel); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bookings.Pricing().Quote(sel))
}

func (s *HTTPServer) handleMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil || year < 2000 || year > 2100 {
		s.fail(w, r, domain.Invalid("year", "must be a four digit year"))
		return
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil || month < 1 || month > 12 {
		s.fail(w, r, domain.Invalid("month", "must be between 1 and 12"))
		return
	}

	days, err := s.bookings.Core().Month(r.Context(), year, time.Month(month))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "month": month, "days": days})
}

func (s *HTTPServer) handleDay(w http.ResponseWriter, r *http.Request) {
	d, err := pathDate(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	core := s.bookings.Core()
	slots, err := core.Slots(r.Context(), d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	available, err := core.AvailableSlots(r.Context(), d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":        d,
		"day_of_week": d.Weekday().String(),
		"capacity":    core.DailyCapacity(d),
		"available":   available,
		"slots":       slots,
	})
}

func (s *HTTPServer) handleStartDraft(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ZipCode string `json:"zip_code"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.drafts.Start(r.Context(), clientKey(r, s.cfg.Auth.HeaderAPIKey), body.ZipCode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *HTTPServer) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := s.drafts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type roomUpdate struct {
	ServiceID string `json:"service_id"`
	RoomID    string `json:"room_id"`
	Count     int    `json:"count"`
	Active    bool   `json:"active"`
}

// draftUpdate applies whichever steps are present, in flow order.
type draftUpdate struct {
	Services []string      `json:"services,omitempty"`
	Rooms    []roomUpdate  `json:"rooms,omitempty"`
	Date     calendar.Date `json:"booking_date"`
	TimeSlot string        `json:"booking_time,omitempty"`
}

func (s *HTTPServer) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body draftUpdate
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	d, err := s.drafts.Get(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Services != nil {
		if d, err = s.drafts.SelectServices(ctx, id, body.Services); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	for _, room := range body.Rooms {
		if d, err = s.drafts.SetRoom(ctx, id, room.ServiceID, room.RoomID, room.Count, room.Active); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if !body.Date.IsZero() || body.TimeSlot != "" {
		if d, err = s.drafts.Schedule(ctx, id, body.Date, body.TimeSlot); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *HTTPServer) handleResetDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.drafts.Reset(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSubmitDraft(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Customer            models.Customer `json:"customer"`
		SpecialInstructions string          `json:"special_instructions"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.drafts.Submit(r.Context(), mux.Vars(r)["id"], body.Customer, body.SpecialInstructions)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.bookings.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	b, err := s.bookings.LookupByConfirmation(r.Context(), q.Get("code"), q.Get("email"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bookings, err := s.bookings.History(r.Context(), q.Get("email"), q.Get("code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

type rescheduleBody struct {
	Email    string        `json:"email,omitempty"`
	Date     calendar.Date `json:"booking_date"`
	TimeSlot string        `json:"booking_time"`
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	s.reschedule(w, r, false)
}

func (s *HTTPServer) handleAdminReschedule(w http.ResponseWriter, r *http.Request) {
	s.reschedule(w, r, true)
}

func (s *HTTPServer) reschedule(w http.ResponseWriter, r *http.Request, admin bool) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body rescheduleBody
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.bookings.Reschedule(r.Context(), id, body.Date, body.TimeSlot, service.Requester{Email: body.Email, Admin: admin})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.bookings.Cancel(r.Context(), id, service.Requester{Email: body.Email})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleAdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f models.BookingFilter
	var err error
	if f.From, err = queryDate(q.Get("from"), "from"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.To, err = queryDate(q.Get("to"), "to"); err != nil {
		s.fail(w, r, err)
		return
	}
	f.Status = strings.TrimSpace(q.Get("status"))
	f.Search = strings.TrimSpace(q.Get("q"))
	if f.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.Offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		s.fail(w, r, err)
		return
	}

	bookings, err := s.bookings.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.bookings.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	customers, err := s.bookings.Customers(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if customers == nil {
		customers = []*models.Customer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (s *HTTPServer) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.bookings.Customer(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.bookings.SetStatus(r.Context(), id, strings.TrimSpace(body.Status))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleListZips(w http.ResponseWriter, r *http.Request) {
	zips, err := s.zips.List(r.Context())
	if err != nil {
		s.fail(w, r, domain.StoreError("list zip codes", err))
		return
	}
	if zips == nil {
		zips = []models.ServiceAreaZip{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"zip_codes": zips})
}

func (s *HTTPServer) handlePutZip(w http.ResponseWriter, r *http.Request) {
	var body struct {
		City  string `json:"city"`
		State string `json:"state"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	z := models.ServiceAreaZip{
		ZipCode: strings.TrimSpace(mux.Vars(r)["zip"]),
		City:    strings.TrimSpace(body.City),
		State:   strings.ToUpper(strings.TrimSpace(body.State)),
	}
	if err := s.zips.Put(r.Context(), z); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (s *HTTPServer) handleDeleteZip(w http.ResponseWriter, r *http.Request) {
	if err := s.zips.Remove(r.Context(), mux.Vars(r)["zip"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusNotFound, "export is not configured")
		return
	}
	q := r.URL.Query()
	from, err := queryDate(q.Get("from"), "from")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryDate(q.Get("to"), "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if from.IsZero() || to.IsZero() {
		s.fail(w, r, domain.Invalid("from", "from and to are required"))
		return
	}

	// Rendered into memory first so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := s.exporter.Write(r.Context(), &buf, from, to); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(from, to)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleReplaySync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusNotFound, "sheets sync is not configured")
		return
	}
	n, err := s.sync.ReplayFailed(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid("id", "must be a positive integer")
	}
	return id, nil
}

func pathDate(r *http.Request) (calendar.Date, error) {
	d, err := calendar.Parse(mux.Vars(r)["date"])
	if err != nil {
		return calendar.Date{}, domain.Invalid("date", "expected YYYY-MM-DD")
	}
	return d, nil
}

func queryDate(raw, field string) (calendar.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.Parse(raw)
	if err != nil {
		return calendar.Date{}, domain.Invalid(field, "expected YYYY-MM-DD")
	}
	return d, nil
}

func queryInt(raw, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.Invalid(field, "must be a non-negative integer")
	}
	return n, nil
}
