package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/callprobe/callprobe/internal/amd"
	"github.com/callprobe/callprobe/internal/api/middleware"
	"github.com/callprobe/callprobe/internal/config"
	"github.com/callprobe/callprobe/internal/database"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router       *chi.Mux
	cfg          *config.Config
	orchestrator *amd.Orchestrator
	calls        database.CallRepository
	events       database.DetectionEventRepository

	streamHandler  http.Handler
	metricsHandler http.Handler

	apiLimiter     *middleware.IPRateLimiter
	webhookLimiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. streamHandler
// serves the media stream websocket endpoint; metricsHandler serves the
// Prometheus scrape endpoint.
func NewServer(
	cfg *config.Config,
	orchestrator *amd.Orchestrator,
	calls database.CallRepository,
	events database.DetectionEventRepository,
	streamHandler http.Handler,
	metricsHandler http.Handler,
) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		cfg:            cfg,
		orchestrator:   orchestrator,
		calls:          calls,
		events:         events,
		streamHandler:  streamHandler,
		metricsHandler: metricsHandler,
		apiLimiter:     middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
	}
	if cfg.WebhookRateLimit {
		s.webhookLimiter = middleware.NewIPRateLimiter(middleware.WebhookRateLimitConfig())
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the background rate limiter cleanup goroutines.
func (s *Server) Close() {
	s.apiLimiter.Stop()
	if s.webhookLimiter != nil {
		s.webhookLimiter.Stop()
	}
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Operator-facing call API.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.apiLimiter))

			r.Route("/calls", func(r chi.Router) {
				r.Post("/", s.handlePlaceCall)
				r.Get("/", s.handleListCalls)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCall)
					r.Get("/events", s.handleListCallEvents)
				})
			})
		})

		// Provider-facing webhooks. The limiter can be switched off for
		// deployments where the provider sits behind a shared NAT and all
		// webhooks arrive from one source address.
		r.Group(func(r chi.Router) {
			if s.webhookLimiter != nil {
				r.Use(middleware.RateLimit(s.webhookLimiter))
			}

			r.Post("/amd/callback", s.handleProviderCallback)
			r.Post("/amd/events", s.handleTrunkEvent)
		})

		// Media stream websocket. Not rate limited: one long-lived
		// connection per call, all from the provider's media servers.
		r.Get("/stream", s.streamHandler.ServeHTTP)
	})

	r.Get("/metrics", s.metricsHandler.ServeHTTP)
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
