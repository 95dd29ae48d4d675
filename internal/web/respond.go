// Package web holds the small HTTP helpers shared by all handler
// packages: JSON envelopes, domain error to status mapping, and the
// header-based caller identity.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/esx-sim/esx/internal/domain"
)

// WriteJSON writes a success envelope.
func WriteJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	envelope := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteError maps a domain error to its HTTP status and writes an error
// envelope. Unrecognized errors become 500 without leaking internals.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
		http.Error(w, `{"detail":"internal error"}`, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]interface{}{
		"detail": err.Error(),
	}); encErr != nil {
		log.Error().Err(encErr).Msg("Failed to encode error response")
	}
}

// StatusFor returns the HTTP status for a domain error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownUser),
		errors.Is(err, domain.ErrUnknownInstrument):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSuspended),
		errors.Is(err, domain.ErrOutsideWindow),
		errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrAlreadyDisbursed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoEligibleHoldings):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrResourceBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrDailyCountExceeded),
		errors.Is(err, domain.ErrDailyAmountExceeded),
		errors.Is(err, domain.ErrInsufficientCash),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrInventoryExhausted):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Identity is the caller identity taken from request headers. Auth is
// delegated to the fronting gateway; the exchange trusts X-User-ID and
// X-User-Role.
type Identity struct {
	UserID int64
	Role   domain.Role
}

// CallerIdentity extracts the identity headers. Role defaults to trader
// when absent.
func CallerIdentity(r *http.Request) (Identity, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return Identity{}, domain.ErrValidation
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, domain.ErrValidation
	}

	role := domain.Role(r.Header.Get("X-User-Role"))
	if role == "" {
		role = domain.RoleTrader
	}
	if !role.Valid() {
		return Identity{}, domain.ErrValidation
	}
	return Identity{UserID: id, Role: role}, nil
}

// PathID parses a positive integer path parameter.
func PathID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrValidation
	}
	return id, nil
}
