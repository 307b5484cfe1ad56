package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"cleanbook/internal/calendar"
	"cleanbook/internal/config"
	"cleanbook/internal/domain"
	"cleanbook/internal/metrics"
	"cleanbook/internal/service"
	"cleanbook/internal/servicearea"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Exporter renders bookings in a date range as an XLSX workbook.
type Exporter interface {
	Write(ctx context.Context, w io.Writer, from, to calendar.Date) error
}

// SyncReplayer requeues spreadsheet sync tasks that ran out of retries.
type SyncReplayer interface {
	ReplayFailed(ctx context.Context) (int, error)
}

// Deps are the services the HTTP API fronts. Exporter and Sync may be nil.
type Deps struct {
	Bookings *service.BookingService
	Drafts   *service.DraftService
	Zips     *servicearea.Gate
	Exporter Exporter
	Sync     SyncReplayer
	Ready    ReadinessFunc
}

// HTTPServer is the JSON API used by the booking front-end and the admin
// tools.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings *service.BookingService
	drafts   *service.DraftService
	zips     *servicearea.Gate
	exporter Exporter
	sync     SyncReplayer
	ready    ReadinessFunc
	auth     *HTTPAuth
	limiter  *rateLimiter
	handler  http.Handler
	server   *http.Server
	logger   zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		bookings: deps.Bookings,
		drafts:   deps.Drafts,
		zips:     deps.Zips,
		exporter: deps.Exporter,
		sync:     deps.Sync,
		ready:    deps.Ready,
		auth:     NewHTTPAuth(cfg.Auth),
		limiter:  newRateLimiter(cfg.RateLimit),
		logger:   zerolog.Nop(),
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	r := mux.NewRouter()
	r.Use(srv.metricsMiddleware)
	jsonErrors(r)

	r.HandleFunc("/healthz", srv.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", srv.handleReady).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	jsonErrors(v1)
	v1.HandleFunc("/zip/{zip}", srv.handleZip).Methods(http.MethodGet)
	v1.HandleFunc("/catalog", srv.handleCatalog).Methods(http.MethodGet)
	v1.HandleFunc("/quote", srv.handleQuote).Methods(http.MethodPost)
	v1.HandleFunc("/availability", srv.handleMonth).Methods(http.MethodGet)
	v1.HandleFunc("/availability/{date}", srv.handleDay).Methods(http.MethodGet)

	v1.HandleFunc("/drafts", srv.handleStartDraft).Methods(http.MethodPost)
	v1.HandleFunc("/drafts/{id}", srv.handleGetDraft).Methods(http.MethodGet)
	v1.HandleFunc("/drafts/{id}", srv.handleUpdateDraft).Methods(http.MethodPatch)
	v1.HandleFunc("/drafts/{id}", srv.handleResetDraft).Methods(http.MethodDelete)
	v1.HandleFunc("/drafts/{id}/submit", srv.handleSubmitDraft).Methods(http.MethodPost)

	v1.HandleFunc("/bookings", srv.handleCreateBooking).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/lookup", srv.handleLookup).Methods(http.MethodGet)
	v1.HandleFunc("/bookings/history", srv.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/bookings/{id:[0-9]+}/reschedule", srv.handleReschedule).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id:[0-9]+}/cancel", srv.handleCancel).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	jsonErrors(admin)
	admin.Handle("/bookings", srv.auth.Require(permAdminBookings, http.HandlerFunc(srv.handleAdminList))).Methods(http.MethodGet)
	admin.Handle("/bookings/{id:[0-9]+}", srv.auth.Require(permAdminBookings, http.HandlerFunc(srv.handleAdminGet))).Methods(http.MethodGet)
	admin.Handle("/bookings/{id:[0-9]+}/status", srv.auth.Require(permAdminBookings, http.HandlerFunc(srv.handleAdminStatus))).Methods(http.MethodPost)
	admin.Handle("/bookings/{id:[0-9]+}/reschedule", srv.auth.Require(permAdminBookings, http.HandlerFunc(srv.handleAdminReschedule))).Methods(http.MethodPost)
	admin.Handle("/customers", srv.auth.Require(permAdminBookings, http.HandlerFunc(srv.handleListCustomers))).Methods(http.MethodGet)
	admin.Handle("/customers/{id:[0-9]+}", srv.auth.Require(permAdminBookings, http.HandlerFunc(srv.handleGetCustomer))).Methods(http.MethodGet)
	admin.Handle("/zip-codes", srv.auth.Require(permAdminZipCodes, http.HandlerFunc(srv.handleListZips))).Methods(http.MethodGet)
	admin.Handle("/zip-codes/{zip}", srv.auth.Require(permAdminZipCodes, http.HandlerFunc(srv.handlePutZip))).Methods(http.MethodPut)
	admin.Handle("/zip-codes/{zip}", srv.auth.Require(permAdminZipCodes, http.HandlerFunc(srv.handleDeleteZip))).Methods(http.MethodDelete)
	admin.Handle("/export", srv.auth.Require(permAdminExport, http.HandlerFunc(srv.handleExport))).Methods(http.MethodGet)
	admin.Handle("/sync/replay", srv.auth.Require(permAdminBookings, http.HandlerFunc(srv.handleReplaySync))).Methods(http.MethodPost)

	srv.handler = srv.requestIDMiddleware(srv.recoverMiddleware(srv.loggingMiddleware(srv.rateLimitMiddleware(r))))
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// jsonErrors installs JSON 404/405 replies. Subrouters resolve unmatched
// requests themselves, so each one needs its own.
func jsonErrors(r *mux.Router) {
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler { return s.handler }

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type ctxKey int

const requestIDCtxKey ctxKey = iota

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

func (s *HTTPServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDKey))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDCtxKey, id)))
	})
}

func (s *HTTPServer) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().
					Interface("panic", rec).
					Str("request_id", requestID(r.Context())).
					Bytes("stack", debug.Stack()).
					Msg("http handler panic")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && r.URL.Path != "/readyz" {
			if !s.limiter.allow(clientKey(r, s.cfg.Auth.HeaderAPIKey)) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware runs inside the router so the route template is known.
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(endpoint, r.Method, recorder.status)
		metrics.ObserveHTTP(endpoint, time.Since(start))
	})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, code, publicMessage(code, err))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}
