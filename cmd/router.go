package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/backbone/internal/handler"
)

// setupRouter mounts every API under one router. ctx bounds monitoring
// started through the API.
func setupRouter(ctx context.Context, app *application, log *slog.Logger) http.Handler {
	router := mux.NewRouter()

	handler.NewServiceHandler(app.registry, log).RegisterRoutes(router)
	handler.NewHealthHandler(ctx, app.monitor, log).RegisterRoutes(router)
	handler.NewWebhookHandler(app.hub, log).RegisterRoutes(router)
	handler.NewDashboardHandler(app.registry, app.monitor, app.hub, app.breakers, log).RegisterRoutes(router)

	router.Handle("/metrics", app.collector.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/api/metrics", app.collector.JSONHandler()).Methods(http.MethodGet)

	router.Use(handler.RequestLogger(log))
	router.Use(app.limiter.Middleware)

	return router
}
