package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP API. Signup mutations go through limiter.
func NewRouter(h *Handler, limiter *RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type"},
		MaxAge:               300,
		OptionsSuccessStatus: http.StatusNoContent,
	}))

	r.Get("/health", HealthCheck)
	r.Get("/capacity", Capacity)

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetEvent)
			r.Put("/", h.UpdateEvent)
			r.Delete("/", h.DeleteEvent)
			r.Get("/roster", h.Roster)
			r.Get("/options", h.SignupOptions)

			r.Route("/signups", func(r chi.Router) {
				r.Get("/", h.ListSignups)
				r.Get("/count", h.CountActive)
				r.Get("/{userID}", h.HasOpenSignup)
				r.With(limiter.Middleware).Post("/", h.RequestSignup)
				r.With(limiter.Middleware).Delete("/{userID}", h.CancelEventSignup)
			})
		})
	})

	r.With(limiter.Middleware).Post("/signups/cancel", h.CancelSignup)
	return r
}
