package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/backbone/internal/apperr"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

const (
	DefaultCapacity = 50
	DefaultIDPrefix = "bb"
)

var (
	ErrCapacity = errors.New("service registry is at capacity")
	ErrNotFound = errors.New("service not found")
)

// Registry is safe for concurrent use.
type Registry struct {
	mutex    sync.RWMutex
	store    Store
	capacity int
	prefix   string
	seq      atomic.Uint64
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Registry)

// WithStore replaces the default memory store.
func WithStore(store Store) Option {
	return func(r *Registry) {
		r.store = store
	}
}

func WithIDPrefix(prefix string) Option {
	return func(r *Registry) {
		r.prefix = prefix
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry holding at most capacity services. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int, log *slog.Logger, opts ...Option) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	r := &Registry{
		store:    NewMemoryStore(),
		capacity: capacity,
		prefix:   DefaultIDPrefix,
		now:      time.Now,
		logger:   logger.Component(log, "registry"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register validates cfg and inserts a new service. The capacity check and
// the insert happen under one lock.
func (r *Registry) Register(cfg ServiceConfig) (string, error) {
	const op = "registry.Register"

	if err := cfg.Validate(); err != nil {
		return "", apperr.New(apperr.KindValidation, op, err)
	}

	if cfg.HealthEndpoint == "" {
		cfg.HealthEndpoint = DefaultHealthEndpoint
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.store.Len() >= r.capacity {
		r.logger.Warn("Registration rejected, registry full",
			slog.String("name", cfg.Name),
			slog.Int("capacity", r.capacity))
		return "", apperr.New(apperr.KindCapacity, op,
			fmt.Errorf("%w (max %d)", ErrCapacity, r.capacity))
	}

	id := r.newID(cfg.Name)
	for {
		if _, taken := r.store.Get(id); !taken {
			break
		}
		id = r.newID(cfg.Name)
	}

	svc := &Service{
		ID:             id,
		Name:           cfg.Name,
		Type:           cfg.Type,
		Version:        cfg.Version,
		URL:            cfg.URL,
		HealthEndpoint: cfg.HealthEndpoint,
		Capabilities:   append([]string(nil), cfg.Capabilities...),
		ComplianceFlag: cfg.ComplianceFlag,
		Status:         StatusRegistered,
		RegisteredAt:   r.now(),
	}
	r.store.Insert(svc)

	r.logger.Info("Service registered",
		slog.String("id", id),
		slog.String("name", svc.Name),
		slog.String("type", string(svc.Type)),
		slog.String("url", svc.URL))

	return id, nil
}

// Get returns a copy of the service with the given id.
func (r *Registry) Get(id string) (Service, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	svc, ok := r.store.Get(id)
	if !ok {
		return Service{}, notFound("registry.Get", id)
	}
	return svc.clone(), nil
}

// List returns a snapshot of every service in registration order.
func (r *Registry) List() []Service {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stored := r.store.List()
	list := make([]Service, 0, len(stored))
	for _, svc := range stored {
		list = append(list, svc.clone())
	}
	return list
}

func (r *Registry) ListByType(t ServiceType) []Service {
	return r.filter(func(s Service) bool { return s.Type == t })
}

// ListCompliant returns services that declared the compliance flag.
func (r *Registry) ListCompliant() []Service {
	return r.filter(func(s Service) bool { return s.ComplianceFlag })
}

// FindByName returns every instance registered under name.
func (r *Registry) FindByName(name string) []Service {
	return r.filter(func(s Service) bool { return s.Name == name })
}

func (r *Registry) filter(keep func(Service) bool) []Service {
	var out []Service
	for _, svc := range r.List() {
		if keep(svc) {
			out = append(out, svc)
		}
	}
	return out
}

// UpdateStatus records the latest probe outcome. Repeating the same update
// leaves the service unchanged apart from the timestamps carried by result.
func (r *Registry) UpdateStatus(id string, status Status, result *HealthCheckResult) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	checkedAt := r.now()
	if result != nil && !result.Timestamp.IsZero() {
		checkedAt = result.Timestamp
	}

	ok := r.store.Update(id, func(svc *Service) {
		svc.Status = status
		svc.LastHealthCheck = &checkedAt
		svc.LastHealthResult = result.clone()
	})
	if !ok {
		return notFound("registry.UpdateStatus", id)
	}
	return nil
}

// Unregister removes the service and returns its final state.
func (r *Registry) Unregister(id string) (Service, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	svc, ok := r.store.Delete(id)
	if !ok {
		return Service{}, notFound("registry.Unregister", id)
	}

	r.logger.Info("Service unregistered",
		slog.String("id", id),
		slog.String("name", svc.Name))

	return svc.clone(), nil
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.store.Len()
}

func (r *Registry) Capacity() int {
	return r.capacity
}

func (r *Registry) Stats() Stats {
	services := r.List()

	stats := Stats{
		Total:          len(services),
		CountsByType:   make(map[ServiceType]int, len(ServiceTypes)),
		CountsByStatus: make(map[Status]int),
		CapacityUsed:   len(services),
		CapacityMax:    r.capacity,
	}
	for _, t := range ServiceTypes {
		stats.CountsByType[t] = 0
	}

	for _, svc := range services {
		stats.CountsByType[svc.Type]++
		stats.CountsByStatus[svc.Status]++
		if svc.ComplianceFlag {
			stats.CompliantCount++
		}
		if svc.Status == StatusHealthy {
			stats.HealthyCount++
		}
	}

	if stats.Total > 0 {
		stats.ComplianceRate = float64(stats.CompliantCount) / float64(stats.Total) * 100
	}

	return stats
}

// newID derives an id from the sanitized name, a millisecond timestamp, a
// per-registry sequence and a random suffix.
func (r *Registry) newID(name string) string {
	seq := r.seq.Add(1)
	return fmt.Sprintf("%s-%s-%s%s-%s",
		r.prefix,
		sanitize(name),
		strconv.FormatInt(r.now().UnixMilli(), 36),
		strconv.FormatUint(seq, 36),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	)
}

func sanitize(name string) string {
	var b strings.Builder
	lastDash := false
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}

	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "service"
	}
	return out
}

func notFound(op, id string) error {
	return apperr.New(apperr.KindNotFound, op, fmt.Errorf("%w: %s", ErrNotFound, id))
}
