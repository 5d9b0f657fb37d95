// ABOUTME: Gateway orchestrator that coordinates the HTTP server and live feed
// ABOUTME: Manages store, ingestion service, bridge and observer registry lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/scribe/internal/config"
	"github.com/2389/scribe/internal/ingest"
	"github.com/2389/scribe/internal/store"
	"github.com/2389/scribe/internal/stream"
)

// Gateway orchestrates the scribe-gateway server components. It owns the
// HTTP server for the REST surface and the live-feed bridge that pushes
// message insertions to observers.
type Gateway struct {
	config     *config.Config
	store      store.Store
	ingest     *ingest.Service
	registry   *stream.Registry
	bridge     *stream.Bridge
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a gateway over the given store. Pass nil logger for
// default.
func New(cfg *config.Config, st store.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	registry := stream.NewRegistry(logger)
	g := &Gateway{
		config:   cfg,
		store:    st,
		ingest:   ingest.New(st, logger),
		registry: registry,
		bridge:   stream.NewBridge(st.InsertFeed(), registry, logger),
		logger:   logger,
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g
}

// routes builds the HTTP handler tree.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", g.handleHealth)
	mux.Handle("/api/conversations", g.requireToken(http.HandlerFunc(g.handleConversations)))
	mux.Handle("/api/conversations/", g.requireToken(http.HandlerFunc(g.handleConversationSubtree)))
	mux.Handle("/api/agents/", g.requireToken(http.HandlerFunc(g.handleAgentConversations)))
	mux.Handle("/api/stats/agents", g.requireToken(http.HandlerFunc(g.handleAgentStats)))
	mux.Handle(g.config.Server.StreamPath, g.requireToken(http.HandlerFunc(g.handleStream)))

	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	return mux
}

// Start runs the bridge and HTTP server until ctx is cancelled, then
// shuts both down gracefully.
func (g *Gateway) Start(ctx context.Context) error {
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	go g.bridge.Run(bridgeCtx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening",
			"addr", g.config.Server.HTTPAddr,
			"stream_path", g.config.Server.StreamPath)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("HTTP shutdown failed", "error", err)
	}

	// Stopping the bridge closes the registry, which transitions every
	// observer channel to closed.
	stopBridge()
	return nil
}

// Registry exposes the observer registry, used by tests.
func (g *Gateway) Registry() *stream.Registry {
	return g.registry
}

// Handler exposes the handler the server was built with, used by tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}
