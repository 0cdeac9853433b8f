// Package server provides the public entry point for initializing the
// Cubicler gateway.
//
// This package exists in pkg/ (not internal/) so embedders can compose the
// gateway into a larger process:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":1503", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/internal/agent"
	"github.com/cubicler/cubicler/internal/api"
	"github.com/cubicler/cubicler/internal/api/handlers"
	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/dispatch"
	"github.com/cubicler/cubicler/internal/health"
	"github.com/cubicler/cubicler/internal/mcprouter"
	"github.com/cubicler/cubicler/internal/provider"
	"github.com/cubicler/cubicler/internal/telemetry"
	"github.com/cubicler/cubicler/internal/webhook"
)

// Server holds the initialized Cubicler gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the loaded environment configuration.
	Config *config.Config

	// Addr is the host:port the server should listen on.
	Addr string

	shutdownFns []func(context.Context) error
}

// New loads configuration from the environment (including an optional .env
// file, or the file named by CUBICLER_CONFIG) and initializes all gateway
// components.
func New(ctx context.Context) (*Server, error) {
	// A missing env file is fine; real deployments set env vars directly.
	if path := os.Getenv("CUBICLER_CONFIG"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	} else if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	}

	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the gateway with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	loader := config.NewLoader(cfg)
	registry := provider.NewRegistry(loader)

	// Tool providers in routing priority order: built-ins answer first, then
	// MCP servers, then REST servers. The internal provider needs the other
	// two to enumerate their tools, so it is wired in two phases.
	internal := provider.NewInternalProvider()
	internal.SetServersProvider(registry)
	mcpProv := provider.NewMCPProvider(loader, cfg.CallTimeout)
	restProv := provider.NewRESTProvider(loader, cfg.CallTimeout)
	internal.SetProviders([]provider.ToolsProvider{mcpProv, restProv})

	router := mcprouter.NewRouter([]provider.ToolsProvider{internal, mcpProv, restProv}, cfg.Version)
	if err := router.Initialize(ctx); err != nil {
		// Providers initialize lazily on first use too; a cold start against
		// unreachable upstreams should not keep the gateway down.
		log.Warn().Err(err).Msg("Tool providers not ready at startup")
	}

	bridge := mcprouter.NewBridge()
	hub := agent.NewSSEHub()
	factory := agent.NewFactory(hub, router, cfg.CallTimeout)

	dispatcher := dispatch.NewService(loader, router, registry, factory)
	webhooks := webhook.NewService(loader, dispatcher)
	checker := health.NewChecker(loader, router)

	h := handlers.New(cfg, loader, router, bridge, hub, dispatcher, webhooks, checker)

	log.Info().Msg("Cubicler gateway initialized")

	return &Server{
		Handler: api.NewRouter(cfg, h),
		Config:  cfg,
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		shutdownFns: []func(context.Context) error{
			func(context.Context) error { return factory.Close() },
			func(context.Context) error { return mcpProv.Close() },
			shutdownTelemetry,
		},
	}, nil
}

// Shutdown releases agent transports (terminating stdio worker processes),
// closes MCP sessions, and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range s.shutdownFns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
