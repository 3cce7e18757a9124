// Package circuitbreaker guards webhook deliveries with one circuit breaker
// per target service.
//
// A circuit breaker prevents a failing target from absorbing every delivery
// attempt. It has three states:
//
//   - CLOSED: Normal operation, deliveries pass through
//   - OPEN: Target failing, deliveries rejected without a network call
//   - HALF-OPEN: Probing whether the target recovered
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second, logger)
//	err := registry.Execute("svcA", func() error {
//	    return send(ctx, req)
//	})
//	if errors.Is(err, circuitbreaker.ErrOpen) {
//	    // target is cooling down
//	}
package circuitbreaker
