// Package api exposes the booking engine and the catalog over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/service"
)

type Allocator interface {
	RequestBooking(ctx context.Context, userID, conferenceName string) (*service.BookingResult, error)
	CancelBooking(ctx context.Context, id model.BookingID) error
	SelfConfirm(ctx context.Context, id model.BookingID) error
	GetStatus(ctx context.Context, id model.BookingID) (*service.StatusView, error)
}

type Catalog interface {
	AddConference(ctx context.Context, in service.ConferenceInput) (*model.Conference, error)
	AddUser(ctx context.Context, in service.UserInput) (*model.User, error)
	SearchConferences(ctx context.Context, q service.SearchQuery) ([]*model.Conference, error)
	SuggestConferences(ctx context.Context, userID string) ([]*model.Conference, error)
}

type Handler struct {
	allocator Allocator
	catalog   Catalog
	logger    *zap.Logger
}

func NewHandler(allocator Allocator, catalog Catalog, logger *zap.Logger) *Handler {
	return &Handler{allocator: allocator, catalog: catalog, logger: logger}
}

type bookingRequest struct {
	UserID         string `json:"user_id"`
	ConferenceName string `json:"conference_name"`
}

func (r *bookingRequest) Validate() []string {
	var errs []string
	if strings.TrimSpace(r.UserID) == "" {
		errs = append(errs, "user_id is required")
	}
	if strings.TrimSpace(r.ConferenceName) == "" {
		errs = append(errs, "conference_name is required")
	}
	return errs
}

type statusResponse struct {
	BookingID       model.BookingID     `json:"booking_id"`
	UserID          string              `json:"user_id"`
	ConferenceName  string              `json:"conference_name"`
	Status          model.BookingStatus `json:"status"`
	CanConfirmUntil string              `json:"can_confirm_until,omitempty"`
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AddConference handles POST /conferences
func (h *Handler) AddConference(w http.ResponseWriter, r *http.Request) {
	var in service.ConferenceInput
	if !decodeAndValidate(w, r, &in) {
		return
	}

	conf, err := h.catalog.AddConference(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, conf)
}

// SearchConferences handles GET /conferences
func (h *Handler) SearchConferences(w http.ResponseWriter, r *http.Request) {
	q, err := parseSearchQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	confs, err := h.catalog.SearchConferences(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, confs)
}

// AddUser handles POST /users
func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	var in service.UserInput
	if !decodeAndValidate(w, r, &in) {
		return
	}

	user, err := h.catalog.AddUser(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, user)
}

// SuggestConferences handles GET /users/{userID}/suggestions
func (h *Handler) SuggestConferences(w http.ResponseWriter, r *http.Request) {
	confs, err := h.catalog.SuggestConferences(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, confs)
}

// RequestBooking handles POST /bookings
func (h *Handler) RequestBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	var res *service.BookingResult
	err := service.RetryOnConflict(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = h.allocator.RequestBooking(ctx, req.UserID, req.ConferenceName)
		return err
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

// GetStatus handles GET /bookings/{bookingID}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.allocator.GetStatus(r.Context(), bookingID(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, statusResponse{
		BookingID:       view.BookingID,
		UserID:          view.UserID,
		ConferenceName:  view.ConferenceName,
		Status:          view.Status,
		CanConfirmUntil: view.ConfirmDeadline(),
	})
}

// SelfConfirm handles POST /bookings/{bookingID}/confirm
func (h *Handler) SelfConfirm(w http.ResponseWriter, r *http.Request) {
	id := bookingID(r)
	err := service.RetryOnConflict(r.Context(), func(ctx context.Context) error {
		return h.allocator.SelfConfirm(ctx, id)
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, service.BookingResult{BookingID: id, Status: model.BookingStatusConfirmed})
}

// CancelBooking handles POST /bookings/{bookingID}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := bookingID(r)
	err := service.RetryOnConflict(r.Context(), func(ctx context.Context) error {
		return h.allocator.CancelBooking(ctx, id)
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, service.BookingResult{BookingID: id, Status: model.BookingStatusCanceled})
}

func bookingID(r *http.Request) model.BookingID {
	return model.BookingID(chi.URLParam(r, "bookingID"))
}

func parseSearchQuery(r *http.Request) (service.SearchQuery, error) {
	v := r.URL.Query()
	q := service.SearchQuery{
		Location:  v.Get("location"),
		Name:      v.Get("name"),
		StartDate: v.Get("start_date"),
		EndDate:   v.Get("end_date"),
	}
	if topics := v.Get("topics"); topics != "" {
		q.Topics = strings.Split(topics, ",")
	}

	var err error
	if q.MinDurationHours, err = hoursParam(v.Get("min_duration"), "min_duration"); err != nil {
		return q, err
	}
	if q.MaxDurationHours, err = hoursParam(v.Get("max_duration"), "max_duration"); err != nil {
		return q, err
	}
	return q, nil
}

func hoursParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &paramError{name: name}
	}
	return n, nil
}

type paramError struct {
	name string
}

func (e *paramError) Error() string {
	return e.name + " must be a non-negative number of hours"
}
