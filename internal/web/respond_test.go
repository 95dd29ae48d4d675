package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esx-sim/esx/internal/domain"
)

func TestWriteError_DetailEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, zerolog.Nop(), fmt.Errorf("%w: qty must be positive", domain.ErrValidation))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["detail"], "qty must be positive")
}

func TestWriteError_InternalErrorsAreOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, zerolog.Nop(), errors.New("sqlite: disk I/O error"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["detail"])
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrUnknownUser, http.StatusNotFound},
		{domain.ErrUnknownInstrument, http.StatusNotFound},
		{domain.ErrSuspended, http.StatusForbidden},
		{domain.ErrOutsideWindow, http.StatusForbidden},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrAlreadyDisbursed, http.StatusConflict},
		{domain.ErrNoEligibleHoldings, http.StatusUnprocessableEntity},
		{domain.ErrResourceBusy, http.StatusServiceUnavailable},
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrInsufficientCash, http.StatusBadRequest},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, StatusFor(tc.err), tc.err.Error())
	}
}

func TestCallerIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := CallerIdentity(req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	req.Header.Set("X-User-ID", "42")
	ident, err := CallerIdentity(req)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ident.UserID)
	assert.Equal(t, domain.RoleTrader, ident.Role)

	req.Header.Set("X-User-Role", string(domain.RoleRegulator))
	ident, err = CallerIdentity(req)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRegulator, ident.Role)

	req.Header.Set("X-User-Role", "superuser")
	_, err = CallerIdentity(req)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
