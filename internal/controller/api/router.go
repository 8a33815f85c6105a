package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter собирает chi роутер со всеми маршрутами API
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(AccessLog(logger))

	r.Get("/health", h.Health)

	r.Route("/conferences", func(r chi.Router) {
		r.Post("/", h.AddConference)
		r.Get("/", h.SearchConferences)
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.AddUser)
		r.Get("/{userID}/suggestions", h.SuggestConferences)
	})

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.RequestBooking)
		r.Get("/{bookingID}", h.GetStatus)
		r.Post("/{bookingID}/confirm", h.SelfConfirm)
		r.Post("/{bookingID}/cancel", h.CancelBooking)
	})

	return r
}
