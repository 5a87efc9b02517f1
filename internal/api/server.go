package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/tagwatch/tagwatch/internal/api/handler"
	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/notifications"
	"github.com/tagwatch/tagwatch/internal/state"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(store *state.Store, engine *notifications.Engine, notifier *notifications.Notifier, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "Retry-After"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitClients))
	}

	// --- Handler dependencies ---
	h := handler.New(store, engine, notifier, cfg, logger)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/store", h.HealthCheckStore)
	})

	// Swagger UI; doc.json comes from the registered docs package
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	// Device badge icons referenced from push payloads
	r.Get("/api/utils/generate_icon", h.GenerateIcon)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/vapid_public_key", h.GetVAPIDPublicKey)

		r.Route("/users/{userID}", func(r chi.Router) {
			// Notification history
			r.Route("/notifications/history", func(r chi.Router) {
				r.Get("/", h.GetHistory)
				r.Delete("/", h.ClearHistory)
				r.Put("/{entryID}/read", h.MarkRead)
				r.Put("/{entryID}/unread", h.MarkUnread)
				r.Delete("/{entryID}", h.DeleteHistoryEntry)
			})

			// Geofences
			r.Get("/geofences", h.ListGeofences)
			r.Put("/geofences/{geofenceID}", h.PutGeofence)
			r.Delete("/geofences/{geofenceID}", h.DeleteGeofence)

			// Devices
			r.Get("/devices", h.ListDevices)
			r.Put("/devices/{deviceID}", h.PutDevice)
			r.Delete("/devices/{deviceID}", h.DeleteDevice)
			r.Post("/devices/{deviceID}/reports", h.PostReport)
			r.Post("/devices/{deviceID}/test_notification/{testType}", h.SendTestNotification)

			// Push subscriptions
			r.Post("/subscribe", h.Subscribe)
			r.Post("/unsubscribe", h.Unsubscribe)
		})
	})

	return r
}
