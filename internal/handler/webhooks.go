package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/backbone/internal/apperr"
	"github.com/angeloszaimis/backbone/internal/webhook"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

const defaultDeliveryLimit = 50

type WebhookHandler struct {
	hub    *webhook.Hub
	logger *slog.Logger
}

func NewWebhookHandler(hub *webhook.Hub, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		hub:    hub,
		logger: logger.Component(log, "api.webhooks"),
	}
}

func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/webhooks", h.ingest).Methods(http.MethodPost)
	router.HandleFunc("/api/webhooks/routes", h.addRoute).Methods(http.MethodPost)
	router.HandleFunc("/api/webhooks/routes", h.routes).Methods(http.MethodGet)
	router.HandleFunc("/api/webhooks/routes/{id}/active", h.setActive).Methods(http.MethodPut)
	router.HandleFunc("/api/webhooks/stats", h.stats).Methods(http.MethodGet)
	router.HandleFunc("/api/webhooks/deliveries", h.deliveries).Methods(http.MethodGet)
}

// ingest answers as soon as the event is queued.
func (h *WebhookHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeJSON(w, r, "handler.ingest", &payload); err != nil {
		writeError(w, h.logger, err)
		return
	}

	receipt, err := h.hub.ProcessWebhook(webhook.EventFromPayload(payload))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, envelope{
		"eventId":       receipt.EventID,
		"routesMatched": receipt.RoutesMatched,
	})
}

func (h *WebhookHandler) addRoute(w http.ResponseWriter, r *http.Request) {
	var cfg webhook.RouteConfig
	if err := decodeJSON(w, r, "handler.addRoute", &cfg); err != nil {
		writeError(w, h.logger, err)
		return
	}

	id, err := h.hub.AddRoute(cfg)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, envelope{"routeId": id})
}

func (h *WebhookHandler) routes(w http.ResponseWriter, r *http.Request) {
	routes := h.hub.Routes()
	if routes == nil {
		routes = []webhook.Route{}
	}

	writeSuccess(w, http.StatusOK, envelope{"routes": routes, "count": len(routes)})
}

func (h *WebhookHandler) setActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(w, r, "handler.setActive", &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.Active == nil {
		writeError(w, h.logger, apperr.Newf(apperr.KindValidation, "handler.setActive", "active is required"))
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.hub.SetRouteActive(id, *body.Active); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"routeId": id, "active": *body.Active})
}

func (h *WebhookHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, envelope{"stats": h.hub.Stats()})
}

// deliveries handles GET /api/webhooks/deliveries?limit=n.
func (h *WebhookHandler) deliveries(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeliveryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.logger, apperr.Newf(apperr.KindValidation, "handler.deliveries", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	records := h.hub.Deliveries(limit)
	writeSuccess(w, http.StatusOK, envelope{"deliveries": records, "count": len(records)})
}
