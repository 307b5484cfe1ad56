package api

import (
	"errors"
	"net/http"

	"cleanbook/internal/domain"
)

// statusFor maps the domain error classes to HTTP codes. Order matters:
// ErrDraftNotFound is also ErrNotFound, ErrSlotTaken is also ErrConflict.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrStore), errors.Is(err, domain.ErrCodeExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDateMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides driver details behind a generic message.
func publicMessage(code int, err error) string {
	switch code {
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusInternalServerError:
		return "internal error"
	}
	return err.Error()
}
