// Cubicler — an orchestration gateway between AI agents and tool providers.
//
// This is the main entry point for the Cubicler server. It exposes:
//   - POST /dispatch for routing conversations to agents
//   - POST /mcp plus an SSE bridge for MCP clients
//   - POST /webhook/:identifier for external event triggers
//   - SSE channels for agents that connect inbound
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/server"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("Cubicler starting...")

	ctx := context.Background()
	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	httpServer := &http.Server{
		Addr:        srv.Addr,
		Handler:     srv.Handler,
		ReadTimeout: 30 * time.Second,
		// SSE channels stay open indefinitely, so no write timeout.
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown: drain HTTP, then release transports and flush.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Component shutdown incomplete")
		}
	}()

	log.Info().Str("addr", srv.Addr).Str("version", srv.Config.Version).Msg("Cubicler is listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
