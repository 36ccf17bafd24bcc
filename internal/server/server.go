// Package server provides HTTP server initialization and lifecycle management
// for the Riya API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/bus"
	"github.com/scrypster/riya/internal/config"
	"github.com/scrypster/riya/internal/engine"
	"github.com/scrypster/riya/internal/notify"
	"github.com/scrypster/riya/internal/observe"
	"github.com/scrypster/riya/web/handlers"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Deps are the components the HTTP surface is served from. Hub may be nil,
// in which case /ws is not mounted.
type Deps struct {
	Engine *engine.Engine
	Users  handlers.UserLister
	Hub    *handlers.WebSocketHub
	Logger zerolog.Logger
}

// allow restricts a handler to one method.
func allow(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// NewHandler builds the full route tree with middleware applied.
func NewHandler(cfg *config.Config, d Deps) http.Handler {
	mux := http.NewServeMux()

	// Create rate limiter (10 req/sec, burst of 20)
	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	apiHandlers := handlers.NewAPIHandlers(d.Engine, d.Logger)
	searchHandler := handlers.NewSearchHandler(d.Engine.Retriever, d.Logger)
	debugHandler := handlers.NewDebugHandler(d.Engine.Retriever)
	entityHandler := handlers.NewEntityHandler(d.Engine.Graph)
	statsHandler := handlers.NewStatsHandler(d.Users, d.Engine, d.Hub)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/users/{user_id}/messages", allow(http.MethodPost, apiHandlers.RecordMessage))
	apiMux.HandleFunc("/api/users/{user_id}/interactions", allow(http.MethodPost, apiHandlers.PublishInteraction))
	apiMux.HandleFunc("/api/users/{user_id}/retrieve", allow(http.MethodPost, searchHandler.Retrieve))
	apiMux.HandleFunc("/api/users/{user_id}/memories", allow(http.MethodGet, apiHandlers.ListMemories))
	apiMux.HandleFunc("/api/users/{user_id}/graph", allow(http.MethodGet, entityHandler.GetGraph))
	apiMux.HandleFunc("/api/users/{user_id}/trends/{metric}", allow(http.MethodGet, apiHandlers.GetTrend))
	apiMux.HandleFunc("/api/users/{user_id}/relationship", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			apiHandlers.GetRelationship(w, r)
		case http.MethodPost:
			apiHandlers.RecomputeRelationship(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/sessions/{id}/end", allow(http.MethodPost, apiHandlers.EndSession))
	apiMux.HandleFunc("/api/memories/{id}", allow(http.MethodDelete, apiHandlers.DeleteMemory))
	apiMux.HandleFunc("/api/memories/{id}/confirm", allow(http.MethodPost, apiHandlers.ConfirmMemory))
	apiMux.HandleFunc("/api/stats", allow(http.MethodGet, statsHandler.GetStats))
	apiMux.HandleFunc("/api/debug/retrieval-trace", allow(http.MethodGet, debugHandler.RetrievalTrace))

	// Health endpoint, no auth required
	mux.HandleFunc("/api/health", allow(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"healthy","version":%q}`, Version)
	}))

	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))
	mux.Handle("/metrics", observe.Handler())

	// The hub checks Origin itself; production still requires the token.
	if d.Hub != nil {
		mux.Handle("/ws", handlers.RequireAuth(d.Hub, cfg))
	}

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	return handlers.SecurityHeaders(handler)
}

// ForwardStageChanges pushes relationship stage changes to the user's live
// connections. Offline users are skipped.
func ForwardStageChanges(b *bus.Bus, hub *handlers.WebSocketHub) bus.SubscriptionID {
	return bus.Subscribe(b, func(_ context.Context, ev bus.StageChanged) error {
		err := hub.SendToUser(ev.UserID, "stage_changed", map[string]any{
			"from":  ev.From,
			"to":    ev.To,
			"depth": ev.Depth,
		})
		if errors.Is(err, notify.ErrUserOffline) {
			return nil
		}
		return err
	})
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with port 0).
// The server shuts down, and the hub stops, when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, d Deps) (string, error) {
	logger := d.Logger.With().Str("component", "server").Logger()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(cfg, d),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	if d.Hub != nil {
		go d.Hub.Run()
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("server shutdown error")
		}
		if d.Hub != nil {
			d.Hub.Stop()
		}
	}()

	logger.Info().Str("addr", actualAddr).Msg("http server listening")
	return actualAddr, nil
}
