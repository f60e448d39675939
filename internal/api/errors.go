package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"trend-oracle/internal/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrStaleData, http.StatusServiceUnavailable, "stale_data"},
	{domain.ErrUpstreamUnavailable, http.StatusBadGateway, "upstream_unavailable"},
	{domain.ErrLowConfidence, http.StatusUnprocessableEntity, "low_confidence"},
	{domain.ErrInvalidReferencePrice, http.StatusUnprocessableEntity, "invalid_reference_price"},
	{domain.ErrOutOfBounds, http.StatusUnprocessableEntity, "out_of_bounds"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrNotInitialized, http.StatusConflict, "not_initialized"},
	{domain.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
	{domain.ErrClockRegression, http.StatusConflict, "clock_regression"},
	{domain.ErrBusy, http.StatusLocked, "busy"},
	{domain.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
}

// statusFor maps an error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("code", code).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("code", code).Msg("request rejected")
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
