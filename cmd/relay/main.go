package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventrelay/internal/config"
	"eventrelay/internal/handlers"
	"eventrelay/internal/logger"
	"eventrelay/internal/middleware"
	"eventrelay/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level)
	log := logger.WithComponent("main")

	orch, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	orch.Start()

	mux := http.NewServeMux()
	mux.Handle("/v1/events", handlers.NewEventsHandler(orch, 0))
	mux.Handle("/v1/metrics", handlers.SnapshotHandler(orch.Collector()))
	mux.Handle("/v1/deadletter", handlers.DeadLetterHandler(orch.DeadLetters()))
	mux.Handle("/healthz", handlers.HealthHandler())
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Logging(middleware.Recovery(mux)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()

	// Stop accepting producer requests first, then drain the
	// pipeline so accumulated batches are sealed and delivered.
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown incomplete")
	}
	if err := orch.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("pipeline drain incomplete")
	}

	log.Info().Msg("exited")
}
