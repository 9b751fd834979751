package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jomiage/internal/bootstrap"
	"jomiage/internal/config"
	"jomiage/internal/httpapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stdout, nil)).Error("load config failed", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services failed", "error", err)
		os.Exit(1)
	}
	defer services.Close()

	if cfg.Source.Kind != config.SourceHTTP {
		if _, err := services.Controller.Start(ctx); err != nil {
			logger.Error("start reading session failed", "error", err, "source", cfg.Source.Kind)
		}
	}

	router := httpapi.NewRouter(services.Controller, httpapi.Options{
		Capture:      cfg.Capture,
		Voice:        services.Voice,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("jomiage started",
			"addr", cfg.HTTP.Addr,
			"source", cfg.Source.Kind,
			"speech_engine", cfg.Speech.Engine,
			"voice", services.Voice,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}
