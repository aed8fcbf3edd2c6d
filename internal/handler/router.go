package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/payrecon/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware административного API.
// metrics может быть nil; при пустом allowedOrigins CORS не подключается.
func (h *Handler) SetupRouter(metrics http.Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// promhttp сжимает ответ сам, поэтому /metrics не проходит через GzipMiddleware.
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders/{identifier}/verify", h.VerifyOrder)
			r.Get("/orders/{identifier}/bank-match", h.BankMatch)

			r.Get("/worker/logs", h.GetLogs)
			r.Get("/worker/status", h.GetWorkerStatus)
			r.Post("/worker/run", h.RunWorker)
			r.Put("/worker/settings", h.UpdateSettings)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
