package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes builds the router: health endpoints are open, everything under
// /api requires an owner identity, and operator endpoints additionally check
// the admin bearer token.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		// The dashboard dev server and the server's own origin. Wildcards
		// don't mix with AllowCredentials, so origins stay explicit.
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Owner-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(notFoundJSON)

	if h.health != nil {
		r.Get("/health", h.health.HandleHealth)
		r.Get("/health/live", h.health.HandleLiveness)
		r.Get("/health/ready", h.health.HandleReadiness)
		r.Get("/health/db", h.health.HandleDBStats)
	}

	r.Route("/api", func(r chi.Router) {
		// Operator endpoints sit outside the owner scope: they act across
		// owners and are guarded by the admin token instead.
		r.Route("/browsers", func(r chi.Router) {
			r.Post("/force-close", h.requireAdmin(h.ForceCloseBrowsers))
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireOwner)

			r.Route("/campaigns", func(r chi.Router) {
				r.Post("/", h.CreateCampaign)
				r.Get("/", h.ListCampaigns)

				r.Route("/{campaignID}", func(r chi.Router) {
					r.Get("/", h.GetCampaign)
					r.Delete("/", h.DeleteCampaign)

					r.Post("/start", h.StartCampaign)
					r.Post("/pause", h.PauseCampaign)
					r.Post("/resume", h.ResumeCampaign)
					r.Post("/stop", h.StopCampaign)

					r.Get("/progress", h.GetProgress)
					r.Get("/workflow", h.GetWorkflow)
					r.Get("/workflow/summary", h.GetWorkflowSummary)

					r.Post("/resend", h.ResendEntry)
					r.Post("/resend-failed", h.ResendFailed)
				})
			})

			r.Route("/pacing", func(r chi.Router) {
				r.Get("/settings", h.GetPacingSettings)
				r.Put("/settings", h.PutPacingSettings)
			})

			r.Route("/feeds", func(r chi.Router) {
				r.Post("/", h.CreateFeedSource)
				r.Get("/", h.ListFeedSources)
				r.Post("/{sourceID}/compose", h.ComposeFromFeed)
			})
		})
	})

	return r
}

// notFoundJSON is installed as chi's fallback so unknown routes still answer
// in the API's error envelope.
func notFoundJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":"route not found"}`))
}
