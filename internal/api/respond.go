package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/booking"
)

const maxBodyBytes = 1 << 20

// statusClientClosedRequest is nginx's code for a request the caller
// abandoned before the response was written.
const statusClientClosedRequest = 499

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decodeBody decodes a JSON body into dst and runs its validation tags.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("could not parse JSON: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return errors.New(strings.Join(fields, "; "))
		}
		return err
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a valid UUID", name)
	}
	return id, nil
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("%w: limit must be a positive integer", booking.ErrInvalidPagination)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must be a non-negative integer", booking.ErrInvalidPagination)
		}
	}
	return limit, offset, nil
}

// actorID returns the authenticated caller forwarded by the gateway, or
// fallback when the header is absent.
func actorID(r *http.Request, fallback uuid.UUID) (uuid.UUID, error) {
	v := r.Header.Get("X-Actor-ID")
	if v == "" {
		return fallback, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, errors.New("X-Actor-ID must be a valid UUID")
	}
	return id, nil
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Specific errors come before their kinds so the most precise code wins.
var errorMappings = []errorMapping{
	{booking.ErrInvalidInterval, http.StatusBadRequest, "invalid_interval"},
	{booking.ErrInvalidTargetStatus, http.StatusBadRequest, "invalid_target_status"},
	{booking.ErrNegativeAmount, http.StatusBadRequest, "invalid_amount"},
	{booking.ErrInvalidPagination, http.StatusBadRequest, "invalid_pagination"},
	{booking.ErrInvalidPeriod, http.StatusBadRequest, "invalid_period"},
	{booking.ErrInvalidYear, http.StatusBadRequest, "invalid_year"},
	{booking.ErrValidation, http.StatusBadRequest, "validation_error"},

	{booking.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{booking.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{booking.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{booking.ErrNotFound, http.StatusNotFound, "not_found"},

	{booking.ErrSlotOverlap, http.StatusConflict, "slot_overlap"},
	{booking.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
	{booking.ErrPaymentExists, http.StatusConflict, "payment_exists"},
	{booking.ErrConflict, http.StatusConflict, "conflict"},

	{booking.ErrSlotNotFree, http.StatusConflict, "slot_not_free"},
	{booking.ErrAppointmentFinalized, http.StatusConflict, "appointment_finalized"},
	{booking.ErrInvalidState, http.StatusConflict, "invalid_state"},

	{booking.ErrTransient, http.StatusServiceUnavailable, "temporarily_unavailable"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "timeout"},
	{context.Canceled, statusClientClosedRequest, "client_closed_request"},
}

func writeServiceError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", "1")
			}
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
