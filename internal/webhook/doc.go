// Package webhook routes inbound events to registered services.
//
// Ingestion only matches routes and enqueues; it never waits on the
// network. A single consumer drains one queued event per tick and
// delivers it to every matched route's target. The queue is bounded and
// drops its oldest event on overflow.
//
// An event is retried as a whole only when at least one delivery was
// dispatched and every dispatched delivery failed transiently. Missing
// targets and permanent rejections are final. After MaxRetries
// re-enqueues the event is dropped and logged; the producer is never
// notified.
package webhook
