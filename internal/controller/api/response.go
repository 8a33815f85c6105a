package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/model"
)

// Error codes of the response envelope.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeDuplicateBooking = "duplicate_booking"
	ErrCodeOverlapConflict  = "overlap_conflict"
	ErrCodeCannotConfirm    = "cannot_confirm"
	ErrCodeStorageConflict  = "storage_conflict"
	ErrCodeInternalError    = "internal_error"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIResponse is the envelope of every response. Data is usually nil when
// Error is set; a duplicate booking carries the existing booking id.
type APIResponse struct {
	Data  any       `json:"data"`
	Error *APIError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, APIResponse{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{Error: &APIError{Code: code, Message: message}})
}

// Validator is implemented by request bodies that check themselves.
type Validator interface {
	Validate() []string
}

// decodeAndValidate writes a 400 and returns false if the body is not valid.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if v, ok := dst.(Validator); ok {
		if errs := v.Validate(); len(errs) > 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, strings.Join(errs, "; "))
			return false
		}
	}
	return true
}

// writeServiceError maps a service error onto a status code and envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var (
		status = http.StatusInternalServerError
		code   = ErrCodeInternalError
		msg    = err.Error()
		data   any
	)

	switch {
	case errors.Is(err, model.ErrInvalidInput):
		status, code = http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, model.ErrNotFound):
		status, code = http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, model.ErrDuplicateBooking):
		status, code = http.StatusConflict, ErrCodeDuplicateBooking
		if id, ok := model.ExistingBookingID(err); ok {
			data = map[string]string{"booking_id": id.String()}
		}
	case errors.Is(err, model.ErrAlreadyExists):
		status, code = http.StatusConflict, ErrCodeAlreadyExists
	case errors.Is(err, model.ErrOverlapConflict):
		status, code = http.StatusConflict, ErrCodeOverlapConflict
	case errors.Is(err, model.ErrCannotConfirm):
		status, code = http.StatusBadRequest, ErrCodeCannotConfirm
	case errors.Is(err, model.ErrStorageConflict):
		status, code = http.StatusServiceUnavailable, ErrCodeStorageConflict
		msg = "too much contention, retry the request"
	default:
		msg = "internal error"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	writeJSON(w, status, APIResponse{Data: data, Error: &APIError{Code: code, Message: msg}})
}
