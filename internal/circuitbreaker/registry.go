package circuitbreaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/angeloszaimis/backbone/pkg/logger"
)

type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*gobreaker.CircuitBreaker[struct{}]
	threshold uint32
	timeout   time.Duration
	succeeded func(err error) bool
	logger    *slog.Logger
}

type Option func(*Registry)

// WithSuccessFilter decides which errors count against a breaker. Errors
// for which fn returns true leave the failure streak untouched.
func WithSuccessFilter(fn func(err error) bool) Option {
	return func(r *Registry) {
		r.succeeded = fn
	}
}

// NewRegistry creates breakers that open after threshold consecutive
// failures and probe again after timeout.
func NewRegistry(threshold int, timeout time.Duration, log *slog.Logger, opts ...Option) *Registry {
	if threshold < 1 {
		threshold = 1
	}

	r := &Registry{
		breakers:  make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		threshold: uint32(threshold),
		timeout:   timeout,
		logger:    logger.Component(log, "circuitbreaker"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Execute runs fn through the breaker for key. A rejected call returns an
// error wrapping ErrOpen and fn is not invoked.
func (r *Registry) Execute(key string, fn func() error) error {
	cb := r.getBreaker(key)

	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrOpen, key)
	}

	return err
}

// State reports the breaker state for key. Unknown keys are closed.
func (r *Registry) State(key string) State {
	r.mutex.RLock()
	cb, exists := r.breakers[key]
	r.mutex.RUnlock()

	if !exists {
		return StateClosed
	}
	return fromGobreaker(cb.State())
}

func (r *Registry) getBreaker(key string) *gobreaker.CircuitBreaker[struct{}] {
	r.mutex.RLock()
	cb, exists := r.breakers[key]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[key]; exists {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:         key,
		MaxRequests:  1,
		Timeout:      r.timeout,
		IsSuccessful: r.succeeded,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("Circuit breaker state changed",
				slog.String("target", name),
				slog.String("from", fromGobreaker(from).String()),
				slog.String("to", fromGobreaker(to).String()))
		},
	})
	r.breakers[key] = cb
	return cb
}

func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*gobreaker.CircuitBreaker[struct{}])
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for key, cb := range r.breakers {
		stats[key] = fromGobreaker(cb.State())
	}
	return stats
}
