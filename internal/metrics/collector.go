package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/backbone/pkg/logger"
)

type EventType string

const (
	EventProbeCompleted    EventType = "probe_completed"
	EventWebhookReceived   EventType = "webhook_received"
	EventDeliveryCompleted EventType = "delivery_completed"
	EventWebhookRetried    EventType = "webhook_retried"
	EventWebhookDropped    EventType = "webhook_dropped"
	EventQueueEvicted      EventType = "queue_evicted"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Status    string
	Source    string
	Target    string
	Routed    bool
	Success   bool
	Duration  time.Duration
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	registry *prometheus.Registry
	logger   *slog.Logger
}

func NewCollector(bufferSize int, log *slog.Logger, opts ...Option) *Collector {
	if bufferSize < 1 {
		bufferSize = 1
	}

	reg := prometheus.NewRegistry()

	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(reg, opts...),
		registry: reg,
		logger:   logger.Component(log, "metrics"),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues event without blocking. It is safe to call on a nil
// collector, which lets components run without metrics.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

// RegisterGauge exposes a value computed at scrape time.
func (c *Collector) RegisterGauge(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventProbeCompleted:
		c.metrics.RecordProbe(event.Status, event.Duration)

	case EventWebhookReceived:
		c.metrics.RecordWebhook(event.Source, event.Routed)

	case EventDeliveryCompleted:
		c.metrics.RecordDelivery(event.Target, event.Duration, event.Success)

	case EventWebhookRetried:
		c.metrics.RecordRetry()

	case EventWebhookDropped:
		c.metrics.RecordDrop()

	case EventQueueEvicted:
		c.metrics.RecordEviction()
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
