package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/angeloszaimis/backbone/config"
	"github.com/angeloszaimis/backbone/internal/httpserver"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApplication(cfg, log)
	if err != nil {
		log.Error("Failed to build application", slog.Any("err", err))
		os.Exit(1)
	}

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(ctx, app, log),
		httpserver.WithTimeouts(cfg.Server.ReadTimeoutDuration(), cfg.Server.WriteTimeoutDuration()),
		httpserver.WithShutdownTimeout(cfg.Server.ShutdownTimeoutDuration()),
	)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	app.start(ctx)

	srvErrCh := make(chan error, 1)

	go func() {
		log.Info("Listening", slog.String("address", srv.Addr()))
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
		app.stop()
	case err := <-srvErrCh:
		app.stop()
		if err != nil {
			log.Error("Error starting server", slog.Any("err", err))
			os.Exit(1)
		}
	}
}
