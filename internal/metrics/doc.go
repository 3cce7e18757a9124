// Package metrics collects operational metrics for the service registry,
// the health monitor and the webhook hub.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Health probe outcomes and latencies
//   - Webhook ingestion counts per source
//   - Delivery outcomes and latencies per target service (P50, P95, P99)
//   - Retries, permanent drops and queue evictions
//
// The collector runs in a dedicated goroutine and processes events without
// blocking producers: Emit never waits, a full buffer drops the event.
// Aggregates are exported both as a JSON snapshot and in the Prometheus
// exposition format through a dedicated prometheus.Registry.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventDeliveryCompleted,
//		Target:   "svcA",
//		Duration: 150 * time.Millisecond,
//		Success:  true,
//	})
//
//	snapshot := collector.Snapshot()
//
// Events still buffered when the context is cancelled are drained before the
// collector goroutine exits.
package metrics
