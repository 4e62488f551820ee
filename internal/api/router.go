package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/api/middleware"
	"github.com/midlaj1055/live-chat/internal/handlers"
)

// Deps are the components the router mounts.
type Deps struct {
	Handler *handlers.Handler
	Auth    middleware.Authenticator
	// Gateway serves /ws; nil leaves the route unmounted.
	Gateway http.Handler
	// Assets serves /live-chat/*; nil leaves the route unmounted.
	Assets http.Handler
	// Redis enables the sliding-window rate limiter when set.
	Redis     *redis.Client
	RateLimit middleware.RateLimiterConfig
	// AllowedOrigins for CORS; empty allows any origin without credentials.
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	if d.Redis != nil {
		limiter := middleware.NewRateLimiter(d.Redis, d.Logger, d.RateLimit)
		r.Use(limiter.Middleware)
	}

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}
	if len(d.AllowedOrigins) > 0 {
		corsOpts.AllowedOrigins = d.AllowedOrigins
		corsOpts.AllowCredentials = true
	}
	r.Use(cors.Handler(corsOpts))

	h := d.Handler
	auth := middleware.NewAuthMiddleware(d.Auth, d.Logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/live-chat/", http.StatusFound)
	})
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// Sign-in
	r.Post("/auth/phone/start", h.StartPhoneSignIn)
	r.Post("/auth/phone/verify", h.VerifyPhoneSignIn)
	r.Get("/auth/google/login", h.GoogleLogin)
	r.Get("/auth/google/callback", h.GoogleCallback)

	// Authenticated routes (require a session token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/auth/logout", h.Logout)
		r.Get("/me", h.Me)
		r.Get("/directory", h.Directory)
		r.Get("/who/{id}", h.Who)
		r.Post("/presence", h.Presence)
		r.Get("/conversations/{peer}/messages", h.Timeline)
		r.Post("/conversations/{peer}/messages", h.SendMessage)
		r.Delete("/conversations/{peer}/messages/{id}", h.DeleteMessage)
		if d.Gateway != nil {
			r.Handle("/ws", d.Gateway)
		}
	})

	if d.Assets != nil {
		r.Handle("/live-chat", http.RedirectHandler("/live-chat/", http.StatusMovedPermanently))
		r.Handle("/live-chat/*", d.Assets)
	}

	return r
}
