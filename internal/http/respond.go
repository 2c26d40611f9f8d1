package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"fintrack/internal/log"
	"fintrack/internal/records"
	"fintrack/internal/remote"
	"fintrack/internal/services"
	"fintrack/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, errorResponse{Error: msg, Field: field})
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	var apiErr *remote.APIError
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNotSignedIn), errors.Is(err, remote.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, remote.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, remote.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		if apiErr.Temporary() {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case errors.Is(err, remote.ErrInvalidResponse), errors.Is(err, records.ErrParseFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Server-side failures are
// logged and their detail is not echoed to the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		writeError(w, status, verr.Message, verr.Field)
		return
	}
	if status >= 500 {
		fields := log.NewFields().WithErrorType(errorType(status))
		fields[log.FieldPath] = r.URL.Path
		fields[log.FieldStatusCode] = status
		log.NewStructuredLogger(log.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, log.ComponentHTTP, r.Method, fields)
	}

	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		msg = "internal error"
	case http.StatusServiceUnavailable:
		msg = "data service unavailable, try again later"
	case http.StatusBadGateway:
		msg = "data service returned an invalid response"
	case http.StatusUnauthorized:
		if errors.Is(err, remote.ErrInvalidCredentials) {
			msg = remote.ErrInvalidCredentials.Error()
		} else {
			msg = session.ErrNotSignedIn.Error()
		}
	case http.StatusConflict:
		msg = remote.ErrEmailTaken.Error()
	}
	writeError(w, status, msg, "")
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return false
		}
		writeError(w, http.StatusBadRequest, "malformed JSON body", "")
		return false
	}
	return true
}

func errorType(status int) string {
	switch status {
	case http.StatusServiceUnavailable:
		return log.ErrorTypeNetwork
	case http.StatusBadGateway:
		return log.ErrorTypeExternal
	default:
		return log.ErrorTypeInternal
	}
}
