package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smartauth/internal/portal"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.noStoreMiddleware)

		r.Get("/health", s.handleHealth)
		r.Get("/ping", s.handlePing)

		r.Route("/citizens", func(r chi.Router) {
			r.Post("/register", s.handleCitizenRegister)
			r.Post("/login", s.handleCitizenLogin)
			r.Post("/verify", s.handleCitizenVerify)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Post("/register", s.handleEmployeeRegister)
			r.Post("/login", s.handleEmployeeLogin)
			r.Post("/verify", s.handleEmployeeVerify)
			r.Get("/audit", s.handleListAudit)
		})
	})

	if s.cfg.Portal.Enabled {
		pages := http.StripPrefix("/portal", portal.Handler(s.cfg.Portal.Dir))
		r.Handle("/portal", http.RedirectHandler("/portal/", http.StatusMovedPermanently))
		r.Handle("/portal/*", pages)
	}

	return r
}
