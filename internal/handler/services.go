package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/backbone/internal/registry"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

type ServiceHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewServiceHandler(reg *registry.Registry, log *slog.Logger) *ServiceHandler {
	return &ServiceHandler{
		registry: reg,
		logger:   logger.Component(log, "api.services"),
	}
}

// RegisterRoutes mounts the service endpoints under router.
func (h *ServiceHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/services/register", h.register).Methods(http.MethodPost)
	router.HandleFunc("/api/services/stats", h.stats).Methods(http.MethodGet)
	router.HandleFunc("/api/services", h.list).Methods(http.MethodGet)
	router.HandleFunc("/api/services/{id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/api/services/{id}", h.unregister).Methods(http.MethodDelete)
}

func (h *ServiceHandler) register(w http.ResponseWriter, r *http.Request) {
	var cfg registry.ServiceConfig
	if err := decodeJSON(w, r, "handler.register", &cfg); err != nil {
		writeError(w, h.logger, err)
		return
	}

	id, err := h.registry.Register(cfg)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, envelope{"serviceId": id})
}

// list handles GET /api/services with optional type and compliant filters.
func (h *ServiceHandler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var services []registry.Service
	switch {
	case query.Get("type") != "":
		services = h.registry.ListByType(registry.ServiceType(query.Get("type")))
	case query.Get("compliant") == "true":
		services = h.registry.ListCompliant()
	default:
		services = h.registry.List()
	}

	if services == nil {
		services = []registry.Service{}
	}

	writeSuccess(w, http.StatusOK, envelope{"services": services, "count": len(services)})
}

func (h *ServiceHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, envelope{"stats": h.registry.Stats()})
}

func (h *ServiceHandler) get(w http.ResponseWriter, r *http.Request) {
	svc, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"service": svc})
}

func (h *ServiceHandler) unregister(w http.ResponseWriter, r *http.Request) {
	svc, err := h.registry.Unregister(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"service": svc})
}
