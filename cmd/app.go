package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/angeloszaimis/backbone/config"
	"github.com/angeloszaimis/backbone/internal/circuitbreaker"
	"github.com/angeloszaimis/backbone/internal/handler"
	"github.com/angeloszaimis/backbone/internal/healthcheck"
	"github.com/angeloszaimis/backbone/internal/loadbalancer"
	"github.com/angeloszaimis/backbone/internal/metrics"
	"github.com/angeloszaimis/backbone/internal/registry"
	"github.com/angeloszaimis/backbone/internal/strategy"
	"github.com/angeloszaimis/backbone/internal/webhook"
)

// application owns every long-lived component. It is built once from the
// loaded config and passed explicitly to the router.
type application struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	registry  *registry.Registry
	monitor   *healthcheck.Monitor
	breakers  *circuitbreaker.Registry
	hub       *webhook.Hub
	limiter   *handler.RateLimiter

	stopCollector context.CancelFunc
}

func newApplication(cfg *config.Config, log *slog.Logger) (*application, error) {
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log, metrics.WithMaxSources(cfg.Metrics.MaxSources))

	reg := registry.New(cfg.Registry.Capacity, log, registry.WithIDPrefix(cfg.Registry.IDPrefix))

	monitor := healthcheck.NewMonitor(reg, healthcheck.Config{
		Interval:           cfg.HealthCheck.IntervalDuration(),
		Timeout:            cfg.HealthCheck.TimeoutDuration(),
		ResponseTimeBudget: cfg.HealthCheck.ResponseTimeBudgetDuration(),
		MemoryBudgetMB:     cfg.HealthCheck.MemoryBudgetMB,
	}, log, collector)

	strat, err := createStrategy(log, cfg.Webhook.Balancing)
	if err != nil {
		return nil, err
	}

	breakers := circuitbreaker.NewRegistry(
		cfg.CircuitBreaker.FailureThreshold,
		cfg.CircuitBreaker.ResetTimeoutDuration(),
		log,
		circuitbreaker.WithSuccessFilter(webhook.IsPermanent),
	)

	history, err := webhook.NewHistory(cfg.Webhook.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("create delivery history: %w", err)
	}

	hub := webhook.NewHub(webhook.Config{
		QueueCapacity:   cfg.Webhook.QueueCapacity,
		ProcessInterval: cfg.Webhook.ProcessIntervalDuration(),
		MaxRetries:      cfg.Webhook.MaxRetries,
	},
		loadbalancer.NewLoadBalancer(reg, strat),
		webhook.NewHTTPDeliverer(cfg.Webhook.DeliveryTimeoutDuration(), breakers, log),
		history,
		log,
		collector,
	)

	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"backbone_registered_services", "Number of services in the registry.", func() float64 { return float64(reg.Len()) }},
		{"backbone_registry_capacity", "Maximum number of services the registry accepts.", func() float64 { return float64(reg.Capacity()) }},
		{"backbone_webhook_queue_depth", "Events waiting for delivery.", func() float64 { return float64(hub.Stats().QueueDepth) }},
		{"backbone_webhook_routes", "Configured webhook routes.", func() float64 { return float64(hub.Stats().TotalRoutes) }},
	}
	for _, g := range gauges {
		if err := collector.RegisterGauge(g.name, g.help, g.fn); err != nil {
			return nil, fmt.Errorf("register gauge %s: %w", g.name, err)
		}
	}

	trusted, err := handler.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}

	return &application{
		cfg:       cfg,
		logger:    log,
		collector: collector,
		registry:  reg,
		monitor:   monitor,
		breakers:  breakers,
		hub:       hub,
		limiter: handler.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log,
			handler.WithMaxClients(cfg.RateLimit.MaxClients),
			handler.WithTrustedProxies(trusted...),
		),
	}, nil
}

// start launches the background loops. The collector gets its own context
// so it can outlive the others during shutdown and record their last
// events.
func (a *application) start(ctx context.Context) {
	collectorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopCollector = cancel
	a.collector.Start(collectorCtx)

	a.hub.Start(ctx)

	if a.cfg.HealthCheck.StartOnBoot {
		a.monitor.Start(ctx)
	}
}

// stop halts the monitor, then the webhook processor (leaving its queue
// intact), then the metrics collector.
func (a *application) stop() {
	a.monitor.Stop()
	a.hub.Stop()

	if a.stopCollector != nil {
		a.stopCollector()
	}

	a.logger.Info("Shutdown complete", slog.Int("queued_webhooks", a.hub.Stats().QueueDepth))
}

func createStrategy(logger *slog.Logger, strategyType string) (strategy.Strategy, error) {
	switch strings.ToLower(strategyType) {
	case config.BalancingRoundRobin:
		return strategy.NewRoundRobinStrategy(), nil
	case config.BalancingRandom:
		return strategy.NewRandomStrategy(), nil
	case config.BalancingLeastResponse:
		return strategy.NewLeastResponseStrategy(), nil
	default:
		logger.Warn("Unknown balancing strategy, defaulting to round-robin", slog.String("requested", strategyType))
		return strategy.NewRoundRobinStrategy(), nil
	}
}
