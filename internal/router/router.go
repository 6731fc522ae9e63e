// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/handler"
	authmw "github.com/SHANKHAN254/fys-investment-bot/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Webhook  *handler.WebhookHandler
	Callback *handler.CallbackHandler
	Admin    *handler.AdminHandler
	Health   *handler.HealthHandler
}

type Options struct {
	Verifier *authmw.Verifier
	// WebhookSecret signs inbound chat webhooks; empty refuses them all.
	WebhookSecret  string
	WebhookMaxSkew time.Duration
	// RateLimit guards the inbound webhook; nil disables it.
	RateLimit func(http.Handler) http.Handler
}

func SetupRoutes(h Handlers, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	maxSkew := opts.WebhookMaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature", "X-Timestamp"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.Health)

		r.Group(func(r chi.Router) {
			if opts.RateLimit != nil {
				r.Use(opts.RateLimit)
			}
			r.Use(authmw.RequireSignature(opts.WebhookSecret, maxSkew, logger))
			r.Post("/webhooks/whatsapp", h.Webhook.HandleWhatsAppMessage)
		})

		r.Post("/callbacks/payhero/{token}", h.Callback.HandlePayHeroCallback)

		r.Route("/admin", func(r chi.Router) {
			r.Use(authmw.RequireAdmin(opts.Verifier, logger))

			r.Get("/settings", h.Admin.GetSettings)
			r.Put("/settings/bounds", h.Admin.UpdateBounds)
			r.Put("/settings/welcome", h.Admin.UpdateWelcome)

			r.Get("/deposits", h.Admin.ListDeposits)
			r.Get("/deposits/{id}", h.Admin.GetDeposit)
			r.Post("/deposits/{id}/recheck", h.Admin.RecheckDeposit)
			r.Post("/deposits/{id}/reject", h.Admin.RejectDeposit)

			r.Get("/users", h.Admin.ListUsers)
			r.Get("/users/{owner}", h.Admin.GetUser)
			r.Post("/users/{owner}/credit", h.Admin.CreditUser)
			r.Post("/users/{owner}/ban", h.Admin.BanUser)
			r.Delete("/users/{owner}/ban", h.Admin.UnbanUser)

			r.Post("/broadcast", h.Admin.Broadcast)
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
