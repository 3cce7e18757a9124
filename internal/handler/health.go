package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/backbone/internal/healthcheck"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

type HealthHandler struct {
	monitor *healthcheck.Monitor
	// baseCtx outlives requests; monitoring started over the API runs
	// until it is stopped or the process shuts down.
	baseCtx context.Context
	logger  *slog.Logger
}

func NewHealthHandler(baseCtx context.Context, monitor *healthcheck.Monitor, log *slog.Logger) *HealthHandler {
	return &HealthHandler{
		monitor: monitor,
		baseCtx: baseCtx,
		logger:  logger.Component(log, "api.health"),
	}
}

func (h *HealthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.liveness).Methods(http.MethodGet)
	router.HandleFunc("/api/health/system", h.system).Methods(http.MethodGet)
	router.HandleFunc("/api/health/check", h.check).Methods(http.MethodPost)
	router.HandleFunc("/api/health/monitor/start", h.start).Methods(http.MethodPost)
	router.HandleFunc("/api/health/monitor/stop", h.stop).Methods(http.MethodPost)
}

// liveness reports on this process, not on registered services.
func (h *HealthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, envelope{
		"status":     "ok",
		"monitoring": h.monitor.IsMonitoring(),
	})
}

func (h *HealthHandler) system(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, envelope{"health": h.monitor.GetSystemHealth()})
}

// check finishes the cycle even if the caller goes away, so a dropped
// connection is never recorded as unreachable services.
func (h *HealthHandler) check(w http.ResponseWriter, r *http.Request) {
	result, err := h.monitor.PerformHealthChecks(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"result": result})
}

func (h *HealthHandler) start(w http.ResponseWriter, r *http.Request) {
	h.monitor.Start(h.baseCtx)
	writeSuccess(w, http.StatusOK, envelope{"state": h.monitor.State()})
}

func (h *HealthHandler) stop(w http.ResponseWriter, r *http.Request) {
	h.monitor.Stop()
	writeSuccess(w, http.StatusOK, envelope{"state": h.monitor.State()})
}
