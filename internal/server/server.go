// Package server wires the HTTP API: routing, middleware, and graceful
// shutdown around the handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/castlefield/tickbook/internal/crypto"
	"github.com/castlefield/tickbook/internal/server/handler"
	"github.com/castlefield/tickbook/internal/server/middleware"
	"github.com/castlefield/tickbook/internal/server/ws"
)

// Config holds the HTTP listener settings.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates the route handlers the server mounts.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Orders   *handler.OrderHandler
	Matching *handler.MatchingHandler
	Accounts *handler.AccountHandler
	Audit    *handler.AuditHandler
	Hub      *ws.Hub
}

// Server is the HTTP front end.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server with routes and the middleware chain. A nil or
// disabled verifier leaves the API open.
func New(cfg Config, handlers Handlers, verifier *crypto.APIKeyVerifier, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.Health)

	mux.HandleFunc("GET /api/markets", handlers.Markets.List)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.Get)
	mux.HandleFunc("GET /api/markets/{id}/pool", handlers.Markets.Pool)
	mux.HandleFunc("GET /api/markets/{id}/outcomes/{outcome}/tick", handlers.Markets.Tick)

	mux.HandleFunc("POST /api/orders", handlers.Orders.Place)
	mux.HandleFunc("GET /api/orders", handlers.Orders.List)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.Get)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.Cancel)
	mux.HandleFunc("GET /api/fills", handlers.Orders.ListFills)

	mux.HandleFunc("POST /api/matching/trigger", handlers.Matching.Trigger)
	mux.HandleFunc("POST /api/matching/sweep", handlers.Matching.Sweep)

	mux.HandleFunc("POST /api/collateral/deposit", handlers.Accounts.Deposit)
	mux.HandleFunc("GET /api/collateral/{owner}", handlers.Accounts.Balance)

	mux.HandleFunc("GET /api/audit", handlers.Audit.List)

	if handlers.Hub != nil {
		mux.HandleFunc("GET /ws", handlers.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(verifier)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start runs the listener until it fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware sets the CORS response headers. An origins list containing
// "*" allows every origin.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
