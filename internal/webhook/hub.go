package webhook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/backbone/internal/apperr"
	"github.com/angeloszaimis/backbone/internal/metrics"
	"github.com/angeloszaimis/backbone/internal/registry"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

var (
	ErrRouteNotFound = errors.New("route not found")

	// ErrDeliveryFailed marks an event whose every dispatched delivery
	// failed transiently.
	ErrDeliveryFailed = errors.New("all deliveries failed")
)

// Resolver maps a route target name to one registered service.
type Resolver interface {
	Resolve(name string) (registry.Service, error)
}

type Config struct {
	QueueCapacity   int
	ProcessInterval time.Duration
	MaxRetries      int
}

func DefaultConfig() Config {
	return Config{
		QueueCapacity:   1000,
		ProcessInterval: time.Second,
		MaxRetries:      3,
	}
}

type Stats struct {
	TotalRoutes    int   `json:"totalRoutes"`
	ActiveRoutes   int   `json:"activeRoutes"`
	QueueDepth     int   `json:"queueDepth"`
	MaxQueueDepth  int   `json:"maxQueueDepth"`
	PeakQueueDepth int   `json:"peakQueueDepth"`
	Processing     bool  `json:"processing"`
	Received       int64 `json:"received"`
	Unrouted       int64 `json:"unrouted"`
	Delivered      int64 `json:"delivered"`
	Failed         int64 `json:"failed"`
	Retried        int64 `json:"retried"`
	Dropped        int64 `json:"dropped"`
	Evicted        int64 `json:"evicted"`
}

type counters struct {
	received  atomic.Int64
	unrouted  atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64
	evicted   atomic.Int64
}

type Hub struct {
	cfg       Config
	queue     *Queue
	resolver  Resolver
	deliverer Deliverer
	history   *History
	metrics   *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time

	routesMutex sync.RWMutex
	routes      []Route

	// mutex guards the processor lifecycle.
	mutex      sync.Mutex
	processing bool
	cancel     context.CancelFunc
	done       chan struct{}

	counters counters
}

func NewHub(cfg Config, resolver Resolver, deliverer Deliverer, history *History, log *slog.Logger, collector *metrics.Collector) *Hub {
	defaults := DefaultConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaults.QueueCapacity
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = defaults.ProcessInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Hub{
		cfg:       cfg,
		queue:     NewQueue(cfg.QueueCapacity),
		resolver:  resolver,
		deliverer: deliverer,
		history:   history,
		metrics:   collector,
		logger:    logger.Component(log, "webhook"),
		now:       time.Now,
	}
}

// AddRoute validates and stores a route. Duplicate-looking routes are
// accepted; every matching route receives the event.
func (h *Hub) AddRoute(cfg RouteConfig) (string, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return "", apperr.New(apperr.KindValidation, "webhook.AddRoute", err)
	}

	route := Route{
		ID:        "route-" + uuid.NewString(),
		Source:    cfg.Source,
		EventType: cfg.EventType,
		Target:    cfg.Target,
		Endpoint:  cfg.Endpoint,
		Method:    cfg.Method,
		Active:    true,
		CreatedAt: h.now(),
	}

	h.routesMutex.Lock()
	h.routes = append(h.routes, route)
	h.routesMutex.Unlock()

	h.logger.Info("Route added",
		slog.String("route", route.ID),
		slog.String("source", route.Source),
		slog.String("event_type", route.EventType),
		slog.String("target", route.Target))

	return route.ID, nil
}

// SetRouteActive toggles whether a route takes part in matching.
func (h *Hub) SetRouteActive(id string, active bool) error {
	h.routesMutex.Lock()
	defer h.routesMutex.Unlock()

	for i := range h.routes {
		if h.routes[i].ID == id {
			h.routes[i].Active = active
			return nil
		}
	}

	return apperr.New(apperr.KindNotFound, "webhook.SetRouteActive", ErrRouteNotFound)
}

func (h *Hub) Routes() []Route {
	h.routesMutex.RLock()
	defer h.routesMutex.RUnlock()

	return append([]Route(nil), h.routes...)
}

// FindMatchingRoutes returns the active routes that match ev.
func (h *Hub) FindMatchingRoutes(ev Event) []Route {
	h.routesMutex.RLock()
	defer h.routesMutex.RUnlock()

	var matched []Route
	for _, r := range h.routes {
		if r.Matches(ev) {
			matched = append(matched, r)
		}
	}
	return matched
}

// ProcessWebhook accepts ev and returns without waiting for delivery.
// Zero matching routes is a success with RoutesMatched 0.
func (h *Hub) ProcessWebhook(ev Event) (Receipt, error) {
	if err := ev.Validate(); err != nil {
		return Receipt{}, apperr.New(apperr.KindValidation, "webhook.ProcessWebhook", err)
	}

	if ev.ID == "" {
		ev.ID = newEventID()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = h.now()
	}

	h.counters.received.Add(1)

	matched := h.FindMatchingRoutes(ev)

	h.metrics.Emit(metrics.MetricEvent{
		Type:   metrics.EventWebhookReceived,
		Source: ev.Source,
		Routed: len(matched) > 0,
	})

	if len(matched) == 0 {
		h.counters.unrouted.Add(1)
		h.logger.Debug("No route matched webhook",
			slog.String("event", ev.ID),
			slog.String("source", ev.Source),
			slog.String("event_type", ev.EventType))
		return Receipt{EventID: ev.ID}, nil
	}

	h.enqueue(QueueItem{
		ID:         uuid.NewString(),
		Event:      ev,
		Routes:     matched,
		EnqueuedAt: h.now(),
	})

	return Receipt{EventID: ev.ID, RoutesMatched: len(matched)}, nil
}

func (h *Hub) enqueue(item QueueItem) {
	h.evicted(h.queue.Push(item))
}

func (h *Hub) evicted(evicted QueueItem, dropped bool) {
	if !dropped {
		return
	}

	h.counters.evicted.Add(1)
	h.metrics.Emit(metrics.MetricEvent{Type: metrics.EventQueueEvicted, Source: evicted.Event.Source})
	h.logger.Warn("Webhook queue full, evicted oldest event",
		slog.String("event", evicted.Event.ID),
		slog.String("source", evicted.Event.Source),
		slog.Int("attempts", evicted.AttemptCount),
		slog.Int("capacity", h.queue.Cap()))
}

// Start launches the background processor. It does nothing when the
// processor is already running.
func (h *Hub) Start(ctx context.Context) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.processing {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.processing = true
	h.cancel = cancel
	h.done = make(chan struct{})

	go h.loop(loopCtx, h.done)

	h.logger.Info("Webhook processor started",
		slog.Duration("interval", h.cfg.ProcessInterval),
		slog.Int("queued", h.queue.Len()))
}

// Stop cancels the processor and waits for it to exit. Queued events stay
// in the queue.
func (h *Hub) Stop() {
	h.mutex.Lock()
	if !h.processing {
		h.mutex.Unlock()
		return
	}

	h.processing = false
	h.cancel()
	done := h.done
	h.mutex.Unlock()

	<-done

	h.logger.Info("Webhook processor stopped", slog.Int("queued", h.queue.Len()))
}

func (h *Hub) IsProcessing() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.processing
}

func (h *Hub) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.cfg.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.ProcessNext(ctx)
		}
	}
}

// ProcessNext delivers the oldest queued event. It reports false when the
// queue was empty.
func (h *Hub) ProcessNext(ctx context.Context) bool {
	item, ok := h.queue.Pop()
	if !ok {
		return false
	}

	err := h.executeRoutes(ctx, item)
	if err == nil {
		return true
	}

	if ctx.Err() != nil {
		// Interrupted by shutdown, not by the targets. The event keeps its
		// place at the head of the queue.
		h.evicted(h.queue.PushFront(item))
		return true
	}

	if item.AttemptCount < h.cfg.MaxRetries {
		item.AttemptCount++
		h.counters.retried.Add(1)
		h.metrics.Emit(metrics.MetricEvent{Type: metrics.EventWebhookRetried, Source: item.Event.Source})
		h.logger.Info("Retrying webhook",
			slog.String("event", item.Event.ID),
			slog.Int("attempt", item.AttemptCount),
			slog.Int("max_retries", h.cfg.MaxRetries))
		h.enqueue(item)
		return true
	}

	h.counters.dropped.Add(1)
	h.metrics.Emit(metrics.MetricEvent{Type: metrics.EventWebhookDropped, Source: item.Event.Source})
	h.logger.Error("Dropping webhook after exhausting retries",
		slog.String("event", item.Event.ID),
		slog.String("source", item.Event.Source),
		slog.String("event_type", item.Event.EventType),
		slog.Int("attempts", item.AttemptCount),
		slog.Any("err", err))

	return true
}

// executeRoutes delivers item to each of its routes in order. It returns a
// delivery error only when the event as a whole should be retried.
func (h *Hub) executeRoutes(ctx context.Context, item QueueItem) error {
	dispatched, transient := 0, 0

	for _, route := range item.Routes {
		record := DeliveryRecord{
			ID:        uuid.NewString(),
			EventID:   item.Event.ID,
			RouteID:   route.ID,
			Target:    route.Target,
			Attempt:   item.AttemptCount,
			Timestamp: h.now(),
		}

		svc, err := h.resolver.Resolve(route.Target)
		if err != nil {
			h.logger.Warn("Route target not registered, skipping",
				slog.String("event", item.Event.ID),
				slog.String("route", route.ID),
				slog.String("target", route.Target),
				slog.Any("err", err))

			record.Outcome = OutcomeSkipped
			record.Error = err.Error()
			h.addHistory(record)
			continue
		}

		dispatched++
		record.ServiceID = svc.ID
		record.URL = svc.Endpoint(route.Endpoint)

		start := time.Now()
		err = h.deliverer.Deliver(ctx, Delivery{
			EventID:   item.Event.ID,
			Source:    item.Event.Source,
			EventType: item.Event.EventType,
			Attempt:   item.AttemptCount,
			RouteID:   route.ID,
			Target:    route.Target,
			URL:       record.URL,
			Method:    route.Method,
			Payload:   item.Event.Payload,
		})
		elapsed := time.Since(start)
		record.DurationMs = elapsed.Milliseconds()

		h.metrics.Emit(metrics.MetricEvent{
			Type:     metrics.EventDeliveryCompleted,
			Target:   route.Target,
			Success:  err == nil,
			Duration: elapsed,
		})

		if err == nil {
			h.counters.delivered.Add(1)
			record.Outcome = OutcomeDelivered
			h.addHistory(record)
			continue
		}

		h.counters.failed.Add(1)
		record.Outcome = OutcomeFailed
		record.Error = err.Error()
		record.Transient = IsTransient(err)
		h.addHistory(record)

		if record.Transient {
			transient++
		}

		h.logger.Warn("Webhook delivery failed",
			slog.String("event", item.Event.ID),
			slog.String("route", route.ID),
			slog.String("url", record.URL),
			slog.Bool("transient", record.Transient),
			slog.Any("err", err))
	}

	if dispatched > 0 && transient == dispatched {
		return apperr.New(apperr.KindDelivery, "webhook.executeRoutes", ErrDeliveryFailed)
	}
	return nil
}

func (h *Hub) addHistory(record DeliveryRecord) {
	if h.history != nil {
		h.history.Add(record)
	}
}

// Deliveries returns up to n recent delivery records, newest first.
func (h *Hub) Deliveries(n int) []DeliveryRecord {
	if h.history == nil {
		return []DeliveryRecord{}
	}
	return h.history.Recent(n)
}

// Queued returns the pending items oldest first.
func (h *Hub) Queued() []QueueItem {
	return h.queue.Items()
}

func (h *Hub) Stats() Stats {
	h.routesMutex.RLock()
	total := len(h.routes)
	active := 0
	for _, r := range h.routes {
		if r.Active {
			active++
		}
	}
	h.routesMutex.RUnlock()

	return Stats{
		TotalRoutes:    total,
		ActiveRoutes:   active,
		QueueDepth:     h.queue.Len(),
		MaxQueueDepth:  h.queue.Cap(),
		PeakQueueDepth: h.queue.MaxDepth(),
		Processing:     h.IsProcessing(),
		Received:       h.counters.received.Load(),
		Unrouted:       h.counters.unrouted.Load(),
		Delivered:      h.counters.delivered.Load(),
		Failed:         h.counters.failed.Load(),
		Retried:        h.counters.retried.Load(),
		Dropped:        h.counters.dropped.Load(),
		Evicted:        h.counters.evicted.Load(),
	}
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
