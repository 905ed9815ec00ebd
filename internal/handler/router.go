package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/linkplace/points-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса баллов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.NewRateLimiter(100, 200).Middleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/points/earn", h.EarnPoints)
			r.Post("/points/use", h.UsePoints)
			r.Get("/balance", h.GetBalance)
			r.Get("/points/history", h.GetHistory)
			r.Get("/points/expiring", h.GetExpiring)
		})
	})

	r.Route("/api/campaigns", func(r chi.Router) {
		r.Get("/", h.ListCampaigns)
		r.Get("/{id}", h.GetCampaign)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/{id}/participate", h.Participate)
			r.Post("/participations/{id}/claim", h.ClaimReward)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.authMiddleware.RequireAdmin)

		r.Post("/transactions/{id}/approve", h.ApproveTransaction)
		r.Post("/transactions/{id}/reject", h.RejectTransaction)

		r.Post("/campaigns", h.CreateCampaign)
		r.Post("/campaigns/{id}/activate", h.ActivateCampaign)
		r.Post("/campaigns/{id}/end", h.EndCampaign)
		r.Post("/participations/{id}/approve", h.ApproveParticipation)
		r.Post("/participations/{id}/reject", h.RejectParticipation)

		r.Post("/archive/{type}/{id}", h.ArchiveEntity)
		r.Get("/archive/export", h.ExportArchive)
		r.Get("/archive/stats", h.GetArchiveStats)
		r.Post("/archive/cleanup", h.CleanupArchive)
		r.Get("/archive/entries/{id}", h.GetArchiveEntry)
		r.Post("/archive/entries/{id}/restore", h.RestoreArchiveEntry)
		r.Delete("/archive/entries/{id}", h.PurgeArchiveEntry)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
