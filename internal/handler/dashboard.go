package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/backbone/internal/circuitbreaker"
	"github.com/angeloszaimis/backbone/internal/healthcheck"
	"github.com/angeloszaimis/backbone/internal/registry"
	"github.com/angeloszaimis/backbone/internal/webhook"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

// DashboardHandler serves one read-only view over every component.
type DashboardHandler struct {
	registry *registry.Registry
	monitor  *healthcheck.Monitor
	hub      *webhook.Hub
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
}

func NewDashboardHandler(reg *registry.Registry, monitor *healthcheck.Monitor, hub *webhook.Hub, breakers *circuitbreaker.Registry, log *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		registry: reg,
		monitor:  monitor,
		hub:      hub,
		breakers: breakers,
		logger:   logger.Component(log, "api.dashboard"),
	}
}

func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/dashboard", h.dashboard).Methods(http.MethodGet)
}

func (h *DashboardHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	body := envelope{
		"services": h.registry.Stats(),
		"health":   h.monitor.GetSystemHealth(),
		"webhooks": h.hub.Stats(),
	}

	if h.breakers != nil {
		body["circuitBreakers"] = h.breakers.Stats()
	}

	writeSuccess(w, http.StatusOK, body)
}
