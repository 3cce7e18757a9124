package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const maxSamples = 1000

// DefaultMaxSources bounds how many distinct webhook sources are tracked.
const DefaultMaxSources = 100

// OtherSource collects webhooks from sources beyond the tracked limit.
const OtherSource = "other"

type Option func(*Metrics)

// WithMaxSources caps the distinct sources kept as map keys and label
// values. Later sources are counted under OtherSource.
func WithMaxSources(n int) Option {
	return func(m *Metrics) {
		if n > 0 {
			m.maxSources = n
		}
	}
}

// Metrics holds the aggregates behind both exposition formats.
type Metrics struct {
	mutex sync.RWMutex

	probes           map[string]int64
	probeTimes       []time.Duration
	webhooksBySource map[string]int64
	maxSources       int
	unrouted         int64
	delivered        map[string]int64
	failed           map[string]int64
	deliveryTimes    map[string][]time.Duration
	retried          int64
	dropped          int64
	evicted          int64
	startTime        time.Time

	probesTotal      *prometheus.CounterVec
	probeDuration    prometheus.Histogram
	webhooksTotal    *prometheus.CounterVec
	deliveriesTotal  *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	retriesTotal     prometheus.Counter
	droppedTotal     prometheus.Counter
	evictedTotal     prometheus.Counter
}

type Snapshot struct {
	Uptime           time.Duration            `json:"uptime"`
	Probes           map[string]int64         `json:"probes"`
	AvgProbeResponse time.Duration            `json:"avg_probe_response"`
	WebhooksReceived int64                    `json:"webhooks_received"`
	WebhooksUnrouted int64                    `json:"webhooks_unrouted"`
	Sources          map[string]int64         `json:"sources"`
	Retried          int64                    `json:"retried"`
	Dropped          int64                    `json:"dropped"`
	Evicted          int64                    `json:"evicted"`
	Targets          map[string]TargetMetrics `json:"targets"`
}

type TargetMetrics struct {
	Delivered   int64         `json:"delivered"`
	Failed      int64         `json:"failed"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
}

// NewMetrics creates the aggregates and registers the Prometheus
// collectors on reg.
func NewMetrics(reg prometheus.Registerer, opts ...Option) *Metrics {
	m := &Metrics{
		probes:           make(map[string]int64),
		webhooksBySource: make(map[string]int64),
		maxSources:       DefaultMaxSources,
		delivered:        make(map[string]int64),
		failed:           make(map[string]int64),
		deliveryTimes:    make(map[string][]time.Duration),
		startTime:        time.Now(),

		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backbone_health_probes_total",
				Help: "Total number of health probes by resulting status",
			},
			[]string{"status"},
		),
		probeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backbone_health_probe_duration_seconds",
				Help:    "Health probe duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		webhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backbone_webhooks_received_total",
				Help: "Total number of accepted webhook events",
			},
			[]string{"source", "routed"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backbone_webhook_deliveries_total",
				Help: "Total number of webhook deliveries by target and outcome",
			},
			[]string{"target", "outcome"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backbone_webhook_delivery_duration_seconds",
				Help:    "Webhook delivery duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backbone_webhook_retries_total",
			Help: "Total number of webhook events re-enqueued for retry",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backbone_webhook_dropped_total",
			Help: "Total number of webhook events dropped after exhausting retries",
		}),
		evictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backbone_webhook_queue_evictions_total",
			Help: "Total number of webhook events evicted from a full queue",
		}),
	}

	for _, opt := range opts {
		opt(m)
	}

	if reg != nil {
		reg.MustRegister(
			m.probesTotal,
			m.probeDuration,
			m.webhooksTotal,
			m.deliveriesTotal,
			m.deliveryDuration,
			m.retriesTotal,
			m.droppedTotal,
			m.evictedTotal,
		)
	}

	return m
}

func (m *Metrics) RecordProbe(status string, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.probes[status]++
	m.probeTimes = appendSample(m.probeTimes, duration)

	m.probesTotal.WithLabelValues(status).Inc()
	m.probeDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhook(source string, routed bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	source = m.trackedSource(source)
	m.webhooksBySource[source]++
	if !routed {
		m.unrouted++
	}

	label := "true"
	if !routed {
		label = "false"
	}
	m.webhooksTotal.WithLabelValues(source, label).Inc()
}

// trackedSource folds sources past the limit into OtherSource. Callers
// hold the mutex.
func (m *Metrics) trackedSource(source string) string {
	if _, seen := m.webhooksBySource[source]; seen {
		return source
	}

	named := len(m.webhooksBySource)
	if _, folded := m.webhooksBySource[OtherSource]; folded {
		named--
	}
	if named >= m.maxSources {
		return OtherSource
	}
	return source
}

func (m *Metrics) RecordDelivery(target string, duration time.Duration, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	outcome := "success"
	if success {
		m.delivered[target]++
	} else {
		m.failed[target]++
		outcome = "failure"
	}
	m.deliveryTimes[target] = appendSample(m.deliveryTimes[target], duration)

	m.deliveriesTotal.WithLabelValues(target, outcome).Inc()
	m.deliveryDuration.WithLabelValues(target).Observe(duration.Seconds())
}

func (m *Metrics) RecordRetry() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.retried++
	m.retriesTotal.Inc()
}

func (m *Metrics) RecordDrop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dropped++
	m.droppedTotal.Inc()
}

func (m *Metrics) RecordEviction() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.evicted++
	m.evictedTotal.Inc()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:           time.Since(m.startTime),
		Probes:           make(map[string]int64, len(m.probes)),
		AvgProbeResponse: average(m.probeTimes),
		WebhooksUnrouted: m.unrouted,
		Sources:          make(map[string]int64, len(m.webhooksBySource)),
		Retried:          m.retried,
		Dropped:          m.dropped,
		Evicted:          m.evicted,
		Targets:          make(map[string]TargetMetrics),
	}

	for status, n := range m.probes {
		snap.Probes[status] = n
	}
	for source, n := range m.webhooksBySource {
		snap.Sources[source] = n
		snap.WebhooksReceived += n
	}

	for target, durations := range m.deliveryTimes {
		sorted := make([]time.Duration, len(durations))
		copy(sorted, durations)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i] < sorted[j]
		})

		snap.Targets[target] = TargetMetrics{
			Delivered:   m.delivered[target],
			Failed:      m.failed[target],
			AvgResponse: average(sorted),
			P50Response: percentile(sorted, 0.50),
			P95Response: percentile(sorted, 0.95),
			P99Response: percentile(sorted, 0.99),
		}
	}

	return snap
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	samples = append(samples, d)
	if len(samples) > maxSamples {
		samples = samples[1:]
	}
	return samples
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
