package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/backbone/internal/apperr"
	"github.com/angeloszaimis/backbone/internal/metrics"
	"github.com/angeloszaimis/backbone/internal/registry"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

type State string

const (
	StateIdle       State = "idle"
	StateMonitoring State = "monitoring"
	StateStopped    State = "stopped"
)

// Store is the registry view the monitor reads from and writes to.
type Store interface {
	List() []registry.Service
	UpdateStatus(id string, status registry.Status, result *registry.HealthCheckResult) error
}

type Config struct {
	Interval           time.Duration
	Timeout            time.Duration
	ResponseTimeBudget time.Duration
	MemoryBudgetMB     float64
}

func DefaultConfig() Config {
	return Config{
		Interval:           30 * time.Second,
		Timeout:            5 * time.Second,
		ResponseTimeBudget: 100 * time.Millisecond,
		MemoryBudgetMB:     50,
	}
}

// CycleResult summarizes one fan-out.
type CycleResult struct {
	TotalServices   int   `json:"totalServices"`
	HealthyServices int   `json:"healthyServices"`
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}

type Option func(*Monitor)

func WithHTTPClient(client *http.Client) Option {
	return func(m *Monitor) {
		m.client = client
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

type Monitor struct {
	store   Store
	cfg     Config
	client  *http.Client
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	// mutex guards state, epoch and cancel. Commits of scheduled cycles
	// also hold it so Stop cannot interleave with a half-applied cycle.
	mutex  sync.Mutex
	state  State
	epoch  uint64
	cancel context.CancelFunc
	done   chan struct{}

	// running holds the epoch of the scheduled cycle in flight, 0 when
	// none is.
	running atomic.Uint64
	skipped atomic.Uint64
}

func NewMonitor(store Store, cfg Config, log *slog.Logger, collector *metrics.Collector, opts ...Option) *Monitor {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ResponseTimeBudget <= 0 {
		cfg.ResponseTimeBudget = defaults.ResponseTimeBudget
	}
	if cfg.MemoryBudgetMB <= 0 {
		cfg.MemoryBudgetMB = defaults.MemoryBudgetMB
	}

	m := &Monitor{
		store:   store,
		cfg:     cfg,
		client:  &http.Client{},
		metrics: collector,
		logger:  logger.Component(log, "healthcheck"),
		now:     time.Now,
		state:   StateIdle,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins periodic monitoring. The first cycle runs right away in the
// background. Calling Start while already monitoring does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state == StateMonitoring {
		return
	}

	m.epoch++
	m.state = StateMonitoring

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(loopCtx, m.epoch, m.done)

	m.logger.Info("Health monitoring started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Uint64("epoch", m.epoch))
}

// Stop cancels the schedule and waits for the scheduling loop to exit.
// Probes already in flight finish on their own timeout but are not
// committed.
func (m *Monitor) Stop() {
	m.mutex.Lock()
	if m.state != StateMonitoring {
		m.mutex.Unlock()
		return
	}

	m.state = StateStopped
	m.cancel()
	done := m.done
	m.mutex.Unlock()

	<-done

	m.logger.Info("Health monitoring stopped")
}

func (m *Monitor) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.state
}

func (m *Monitor) IsMonitoring() bool {
	return m.State() == StateMonitoring
}

// SkippedCycles counts ticks dropped because a cycle was still running.
func (m *Monitor) SkippedCycles() uint64 {
	return m.skipped.Load()
}

func (m *Monitor) loop(ctx context.Context, epoch uint64, done chan struct{}) {
	defer close(done)

	m.trigger(ctx, epoch)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			m.trigger(ctx, epoch)
		}
	}
}

// trigger launches a scheduled cycle unless one of the same epoch is still
// running. A cycle left over from an earlier epoch cannot commit, so it does
// not hold back the first cycle after a restart.
func (m *Monitor) trigger(ctx context.Context, epoch uint64) {
	if !m.acquire(epoch) {
		m.skipped.Add(1)
		m.logger.Warn("Previous health check cycle still running, skipping tick")
		return
	}

	// Probes outlive Stop; only the commit is fenced.
	probeCtx := context.WithoutCancel(ctx)

	go func() {
		defer m.running.CompareAndSwap(epoch, 0)

		result, err := m.cycle(probeCtx, func(results []registry.HealthCheckResult) bool {
			return m.commitScheduled(epoch, results)
		})
		if err != nil {
			m.logger.Error("Health check cycle failed", slog.Any("err", err))
			return
		}

		m.logger.Debug("Health check cycle finished",
			slog.Int("total", result.TotalServices),
			slog.Int("healthy", result.HealthyServices),
			slog.Int64("took_ms", result.ExecutionTimeMs))
	}()
}

func (m *Monitor) acquire(epoch uint64) bool {
	for {
		current := m.running.Load()
		if current >= epoch {
			return false
		}
		if m.running.CompareAndSwap(current, epoch) {
			return true
		}
	}
}

// PerformHealthChecks runs one cycle synchronously and commits it. Nothing
// is committed when ctx ends before the fan-out completes.
func (m *Monitor) PerformHealthChecks(ctx context.Context) (CycleResult, error) {
	return m.cycle(ctx, func(results []registry.HealthCheckResult) bool {
		m.commit(results)
		return true
	})
}

func (m *Monitor) cycle(ctx context.Context, commit func([]registry.HealthCheckResult) bool) (CycleResult, error) {
	start := time.Now()

	services := m.store.List()
	if len(services) == 0 {
		return CycleResult{ExecutionTimeMs: time.Since(start).Milliseconds()}, nil
	}

	results := make([]registry.HealthCheckResult, len(services))

	var g errgroup.Group
	for i, svc := range services {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = m.CheckServiceHealth(ctx, svc)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return CycleResult{}, apperr.New(apperr.KindInternal, "healthcheck.PerformHealthChecks", err)
	}

	if err := ctx.Err(); err != nil {
		m.logger.Warn("Health check cycle interrupted, discarding results",
			slog.Int("results", len(results)),
			slog.Any("err", err))
		return CycleResult{}, apperr.New(apperr.KindInternal, "healthcheck.PerformHealthChecks", err)
	}

	if !commit(results) {
		m.logger.Debug("Discarding results of a stale health check cycle",
			slog.Int("results", len(results)))
	}

	healthy := 0
	for _, r := range results {
		if r.Status == registry.StatusHealthy {
			healthy++
		}
	}

	return CycleResult{
		TotalServices:   len(services),
		HealthyServices: healthy,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func (m *Monitor) commitScheduled(epoch uint64, results []registry.HealthCheckResult) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state != StateMonitoring || m.epoch != epoch {
		return false
	}

	m.commit(results)
	return true
}

func (m *Monitor) commit(results []registry.HealthCheckResult) {
	for i := range results {
		r := results[i]
		if err := m.store.UpdateStatus(r.ServiceID, r.Status, &r); err != nil {
			// The service was unregistered while its probe was in flight.
			m.logger.Warn("Failed to record health result",
				slog.String("service", r.ServiceID),
				slog.Any("err", err))
		}
	}
}
