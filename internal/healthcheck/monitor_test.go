package healthcheck_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/backbone/internal/healthcheck"
	"github.com/angeloszaimis/backbone/internal/metrics"
	"github.com/angeloszaimis/backbone/internal/registry"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

var _ = Describe("Monitor", func() {
	var (
		reg *registry.Registry
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		reg = registry.New(10, logger.Discard())
	})

	register := func(name, url string) string {
		id, err := reg.Register(registry.ServiceConfig{
			Name:    name,
			Type:    registry.TypeCore,
			Version: "1.0.0",
			URL:     url,
		})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	newMonitor := func(interval time.Duration) *healthcheck.Monitor {
		m := healthcheck.NewMonitor(reg, healthcheck.Config{
			Interval: interval,
			Timeout:  time.Second,
		}, logger.Discard(), nil)
		DeferCleanup(m.Stop)
		return m
	}

	statusOf := func(id string) func() registry.Status {
		return func() registry.Status {
			svc, err := reg.Get(id)
			Expect(err).NotTo(HaveOccurred())
			return svc.Status
		}
	}

	Describe("PerformHealthChecks", func() {
		It("should short-circuit on an empty registry", func() {
			result, err := newMonitor(time.Hour).PerformHealthChecks(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.TotalServices).To(BeZero())
			Expect(result.HealthyServices).To(BeZero())
		})

		It("should probe every service and commit the results", func() {
			ok := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"ok"}`))
			DeferCleanup(ok.Close)
			failing := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"fail"}`))
			DeferCleanup(failing.Close)

			a := register("a", ok.URL)
			b := register("b", ok.URL)
			c := register("c", failing.URL)

			result, err := newMonitor(time.Hour).PerformHealthChecks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.TotalServices).To(Equal(3))
			Expect(result.HealthyServices).To(Equal(2))

			Expect(statusOf(a)()).To(Equal(registry.StatusHealthy))
			Expect(statusOf(b)()).To(Equal(registry.StatusHealthy))
			Expect(statusOf(c)()).To(Equal(registry.StatusUnhealthy))

			svc, _ := reg.Get(a)
			Expect(svc.LastHealthCheck).NotTo(BeNil())
			Expect(svc.LastHealthResult).NotTo(BeNil())
			Expect(svc.LastHealthResult.ServiceID).To(Equal(a))
		})

		It("should probe services in parallel", func() {
			slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			}))
			DeferCleanup(slow.Close)

			for _, name := range []string{"a", "b", "c", "d"} {
				register(name, slow.URL)
			}

			start := time.Now()
			result, err := newMonitor(time.Hour).PerformHealthChecks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.HealthyServices).To(Equal(4))
			Expect(time.Since(start)).To(BeNumerically("<", 700*time.Millisecond))
		})

		It("should isolate an unreachable service", func() {
			ok := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"ok"}`))
			DeferCleanup(ok.Close)
			dead := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"ok"}`))
			deadURL := dead.URL
			dead.Close()

			a := register("a", ok.URL)
			b := register("b", deadURL)

			result, err := newMonitor(time.Hour).PerformHealthChecks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.HealthyServices).To(Equal(1))
			Expect(statusOf(a)()).To(Equal(registry.StatusHealthy))
			Expect(statusOf(b)()).To(Equal(registry.StatusError))
		})

		It("should ignore services removed before the commit", func() {
			ok := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"ok"}`))
			DeferCleanup(ok.Close)

			store := &vanishingStore{services: []registry.Service{serviceAt(ok.URL)}}
			m := healthcheck.NewMonitor(store, healthcheck.Config{Timeout: time.Second}, logger.Discard(), nil)

			result, err := m.PerformHealthChecks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.TotalServices).To(Equal(1))
			Expect(store.updates.Load()).To(BeEquivalentTo(1))
		})

		It("should fail the batch when the context is already cancelled", func() {
			ok := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"ok"}`))
			DeferCleanup(ok.Close)
			id := register("a", ok.URL)

			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := newMonitor(time.Hour).PerformHealthChecks(cancelled)
			Expect(err).To(HaveOccurred())
			Expect(statusOf(id)()).To(Equal(registry.StatusRegistered))
		})

		It("should not commit probes cut short by the caller's deadline", func() {
			slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			}))
			DeferCleanup(slow.Close)
			id := register("a", slow.URL)

			short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			DeferCleanup(cancel)

			_, err := newMonitor(time.Hour).PerformHealthChecks(short)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())

			svc, err := reg.Get(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.Status).To(Equal(registry.StatusRegistered))
			Expect(svc.LastHealthResult).To(BeNil())
		})

		It("should report probes to the metrics collector", func() {
			ok := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"ok"}`))
			DeferCleanup(ok.Close)
			register("a", ok.URL)
			register("b", ok.URL)

			collector := metrics.NewCollector(10, logger.Discard())
			collectorCtx, cancel := context.WithCancel(ctx)
			DeferCleanup(cancel)
			collector.Start(collectorCtx)

			m := healthcheck.NewMonitor(reg, healthcheck.Config{Timeout: time.Second}, logger.Discard(), collector)
			_, err := m.PerformHealthChecks(ctx)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int64 {
				return collector.Snapshot().Probes["healthy"]
			}).Should(BeEquivalentTo(2))
		})
	})

	Describe("Start and Stop", func() {
		var server *httptest.Server

		BeforeEach(func() {
			server = httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"ok"}`))
			DeferCleanup(server.Close)
		})

		It("should start idle", func() {
			m := newMonitor(time.Hour)
			Expect(m.State()).To(Equal(healthcheck.StateIdle))
			Expect(m.IsMonitoring()).To(BeFalse())
		})

		It("should run a cycle immediately on start", func() {
			id := register("a", server.URL)
			m := newMonitor(time.Hour)

			m.Start(ctx)
			Expect(m.IsMonitoring()).To(BeTrue())
			Eventually(statusOf(id)).Should(Equal(registry.StatusHealthy))
		})

		It("should keep probing on every interval", func() {
			var hits atomic.Int64
			counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			}))
			DeferCleanup(counting.Close)
			register("a", counting.URL)

			m := newMonitor(20 * time.Millisecond)
			m.Start(ctx)

			Eventually(hits.Load).Should(BeNumerically(">=", 3))
		})

		It("should ignore a second start", func() {
			m := newMonitor(time.Hour)
			m.Start(ctx)
			m.Start(ctx)

			Expect(m.State()).To(Equal(healthcheck.StateMonitoring))
			m.Stop()
			Expect(m.State()).To(Equal(healthcheck.StateStopped))
		})

		It("should treat stop on an idle monitor as a no-op", func() {
			m := newMonitor(time.Hour)
			m.Stop()
			Expect(m.State()).To(Equal(healthcheck.StateIdle))
		})

		It("should discard results of probes that finish after stop", func() {
			release := make(chan struct{})
			var started atomic.Bool
			blocking := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				started.Store(true)
				<-release
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			}))
			DeferCleanup(blocking.Close)
			DeferCleanup(func() {
				select {
				case <-release:
				default:
					close(release)
				}
			})

			id := register("a", blocking.URL)
			m := newMonitor(time.Hour)

			m.Start(ctx)
			Eventually(started.Load).Should(BeTrue())

			m.Stop()
			close(release)

			Consistently(statusOf(id), 300*time.Millisecond).Should(Equal(registry.StatusRegistered))
		})

		It("should resume monitoring after a restart", func() {
			id := register("a", server.URL)
			m := newMonitor(20 * time.Millisecond)

			m.Start(ctx)
			m.Stop()
			Expect(m.State()).To(Equal(healthcheck.StateStopped))

			m.Start(ctx)
			Expect(m.IsMonitoring()).To(BeTrue())
			Eventually(statusOf(id)).Should(Equal(registry.StatusHealthy))
		})

		It("should run the immediate cycle of a restart while a stale cycle is in flight", func() {
			release := make(chan struct{})
			var hits atomic.Int64
			firstBlocks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) == 1 {
					<-release
				}
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			}))
			DeferCleanup(firstBlocks.Close)
			DeferCleanup(func() { close(release) })

			id := register("a", firstBlocks.URL)
			m := newMonitor(time.Hour)

			m.Start(ctx)
			Eventually(hits.Load).Should(BeEquivalentTo(1))
			m.Stop()

			m.Start(ctx)
			Eventually(statusOf(id)).Should(Equal(registry.StatusHealthy))
			Expect(hits.Load()).To(BeEquivalentTo(2))
			Expect(m.SkippedCycles()).To(BeZero())
		})

		It("should skip ticks while a cycle is still running", func() {
			slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(150 * time.Millisecond)
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			}))
			DeferCleanup(slow.Close)
			register("a", slow.URL)

			m := newMonitor(20 * time.Millisecond)
			m.Start(ctx)

			Eventually(m.SkippedCycles).Should(BeNumerically(">", 0))
		})
	})

	Describe("GetSystemHealth", func() {
		It("should report an empty system", func() {
			health := newMonitor(time.Hour).GetSystemHealth()

			Expect(health.TotalServices).To(BeZero())
			Expect(health.HealthRate).To(BeZero())
			Expect(health.LastCheck).To(BeNil())
			Expect(health.State).To(Equal(healthcheck.StateIdle))
		})

		It("should aggregate the last known results without probing", func() {
			var hits atomic.Int64
			ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = w.Write([]byte(`{"status":"ok","complianceFlag":true}`))
			}))
			DeferCleanup(ok.Close)
			failing := httptest.NewServer(jsonHandler(http.StatusOK, `{"status":"fail"}`))
			DeferCleanup(failing.Close)

			register("a", ok.URL)
			register("b", failing.URL)
			register("c", ok.URL)

			m := newMonitor(time.Hour)
			_, err := m.PerformHealthChecks(ctx)
			Expect(err).NotTo(HaveOccurred())
			probes := hits.Load()

			health := m.GetSystemHealth()
			Expect(hits.Load()).To(Equal(probes))

			Expect(health.TotalServices).To(Equal(3))
			Expect(health.HealthyServices).To(Equal(2))
			Expect(health.UnhealthyServices).To(Equal(1))
			Expect(health.HealthRate).To(BeNumerically("~", 66.67, 0.01))
			Expect(health.ComplianceRate).To(BeNumerically("~", 66.67, 0.01))
			Expect(health.LastCheck).NotTo(BeNil())
		})

		It("should count services never probed", func() {
			register("a", "http://localhost:1")

			health := newMonitor(time.Hour).GetSystemHealth()
			Expect(health.UncheckedServices).To(Equal(1))
			Expect(health.HealthyServices).To(BeZero())
		})
	})
})

type vanishingStore struct {
	services []registry.Service
	updates  atomic.Int64
}

func (s *vanishingStore) List() []registry.Service {
	return s.services
}

func (s *vanishingStore) UpdateStatus(string, registry.Status, *registry.HealthCheckResult) error {
	s.updates.Add(1)
	return errors.New("service not found")
}
