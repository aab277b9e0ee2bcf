package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 15 * time.Second

// Routes mounts the REST, JSON-RPC and streaming surfaces. metricsHandler
// may be nil.
func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	// Live updates hijack or stream the connection, so they sit outside the
	// timeout group.
	r.Get("/v1/ws", h.HandleWebSocket)
	r.Get("/v1/sse", h.HandleSSE)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5, "application/json"))
		r.Use(m.Timeout(requestTimeout))

		r.Post("/rpc", h.HandleJSONRPC)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/protocol", h.GetProtocol)
			r.Get("/assets", h.GetAssets)
			r.Get("/prices/{asset}", h.GetPrice)
			r.Get("/events", h.GetEvents)

			r.Route("/positions", func(r chi.Router) {
				r.Post("/", h.OpenPosition)
				r.Get("/", h.ListPositions)
				r.Get("/{id}", h.GetPosition)
				r.Get("/{id}/health", h.GetPositionHealth)
				r.Post("/{id}/{action}", h.PositionAction)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Put("/feeds/{asset}", h.SetFeed)
				r.Put("/collateral/{asset}", h.SetCollateral)
			})

			r.Route("/tokens/{asset}", func(r chi.Router) {
				r.Post("/approve", h.Approve)
				r.Get("/balances/{account}", h.GetBalance)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/permissions", h.ListPermissions)
				r.Post("/permissions", h.GrantPermission)
				r.Delete("/permissions/{id}", h.RevokePermission)
				r.Post("/execute", h.Execute)
			})
		})
	})

	return r
}
