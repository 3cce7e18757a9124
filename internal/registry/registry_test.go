package registry_test

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/backbone/internal/apperr"
	"github.com/angeloszaimis/backbone/internal/registry"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

func serviceConfig(name string) registry.ServiceConfig {
	return registry.ServiceConfig{
		Name:    name,
		Type:    registry.TypeAPI,
		Version: "1.0.0",
		URL:     "http://localhost:9101",
	}
}

var _ = Describe("Registry", func() {
	var reg *registry.Registry

	BeforeEach(func() {
		reg = registry.New(registry.DefaultCapacity, logger.Discard())
	})

	Describe("Register", func() {
		It("should return a prefixed id derived from the name", func() {
			id, err := reg.Register(serviceConfig("svcA"))
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(HavePrefix("bb-svca-"))
		})

		It("should sanitize names into the id", func() {
			id, err := reg.Register(serviceConfig("My Fancy_Service!"))
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(HavePrefix("bb-my-fancy-service-"))
		})

		It("should honor a custom id prefix", func() {
			reg = registry.New(5, logger.Discard(), registry.WithIDPrefix("svc"))
			id, err := reg.Register(serviceConfig("a"))
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(HavePrefix("svc-a-"))
		})

		It("should default the health endpoint and mark the service registered", func() {
			id, _ := reg.Register(serviceConfig("svcA"))
			svc, err := reg.Get(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.HealthEndpoint).To(Equal("/health"))
			Expect(svc.Status).To(Equal(registry.StatusRegistered))
			Expect(svc.LastHealthCheck).To(BeNil())
			Expect(svc.LastHealthResult).To(BeNil())
		})

		It("should issue unique ids", func() {
			seen := make(map[string]struct{})
			for i := 0; i < registry.DefaultCapacity; i++ {
				id, err := reg.Register(serviceConfig("same"))
				Expect(err).NotTo(HaveOccurred())
				Expect(seen).NotTo(HaveKey(id))
				seen[id] = struct{}{}
			}
		})

		It("should keep ids unique with a frozen clock", func() {
			frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			reg = registry.New(10, logger.Discard(), registry.WithClock(func() time.Time { return frozen }))

			a, _ := reg.Register(serviceConfig("svc"))
			b, _ := reg.Register(serviceConfig("svc"))
			Expect(a).NotTo(Equal(b))
		})

		DescribeTable("should reject invalid configs with a validation error",
			func(mutate func(*registry.ServiceConfig), field string) {
				cfg := serviceConfig("svcA")
				mutate(&cfg)

				id, err := reg.Register(cfg)
				Expect(id).To(BeEmpty())
				Expect(apperr.KindOf(err)).To(Equal(apperr.KindValidation))

				var verrs validation.Errors
				Expect(errors.As(err, &verrs)).To(BeTrue())
				Expect(verrs).To(HaveKey(field))
				Expect(reg.Len()).To(Equal(0))
			},
			Entry("missing name", func(c *registry.ServiceConfig) { c.Name = "" }, "name"),
			Entry("missing version", func(c *registry.ServiceConfig) { c.Version = "" }, "version"),
			Entry("missing url", func(c *registry.ServiceConfig) { c.URL = "" }, "url"),
			Entry("url without scheme", func(c *registry.ServiceConfig) { c.URL = "localhost:9101" }, "url"),
			Entry("ftp url", func(c *registry.ServiceConfig) { c.URL = "ftp://host" }, "url"),
			Entry("missing type", func(c *registry.ServiceConfig) { c.Type = "" }, "type"),
			Entry("unknown type", func(c *registry.ServiceConfig) { c.Type = "database" }, "type"),
			Entry("relative health endpoint", func(c *registry.ServiceConfig) { c.HealthEndpoint = "health" }, "healthEndpoint"),
			Entry("blank capability", func(c *registry.ServiceConfig) { c.Capabilities = []string{"ok", ""} }, "capabilities"),
		)

		Context("at capacity", func() {
			BeforeEach(func() {
				for i := 0; i < registry.DefaultCapacity; i++ {
					_, err := reg.Register(serviceConfig(fmt.Sprintf("svc-%d", i)))
					Expect(err).NotTo(HaveOccurred())
				}
			})

			It("should fail the next registration with a capacity error", func() {
				id, err := reg.Register(serviceConfig("overflow"))
				Expect(id).To(BeEmpty())
				Expect(errors.Is(err, registry.ErrCapacity)).To(BeTrue())
				Expect(apperr.KindOf(err)).To(Equal(apperr.KindCapacity))
				Expect(reg.Len()).To(Equal(registry.DefaultCapacity))
			})

			It("should accept a registration after an unregister", func() {
				first := reg.List()[0]
				_, err := reg.Unregister(first.ID)
				Expect(err).NotTo(HaveOccurred())

				_, err = reg.Register(serviceConfig("replacement"))
				Expect(err).NotTo(HaveOccurred())
				Expect(reg.Len()).To(Equal(registry.DefaultCapacity))
			})
		})

		It("should admit exactly one of many concurrent registrations for the last slot", func() {
			reg = registry.New(3, logger.Discard())
			_, _ = reg.Register(serviceConfig("a"))
			_, _ = reg.Register(serviceConfig("b"))

			const contenders = 64
			var (
				wg        sync.WaitGroup
				succeeded atomic.Int32
				capacity  atomic.Int32
			)
			start := make(chan struct{})
			for i := 0; i < contenders; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := reg.Register(serviceConfig(fmt.Sprintf("c-%d", i)))
					switch {
					case err == nil:
						succeeded.Add(1)
					case errors.Is(err, registry.ErrCapacity):
						capacity.Add(1)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			Expect(succeeded.Load()).To(Equal(int32(1)))
			Expect(capacity.Load()).To(Equal(int32(contenders - 1)))
			Expect(reg.Len()).To(Equal(3))
		})
	})

	Describe("Get", func() {
		It("should round-trip every caller-supplied field", func() {
			cfg := registry.ServiceConfig{
				Name:           "assistant-1",
				Type:           registry.TypeAssistant,
				Version:        "2.3.4",
				URL:            "https://assist.internal:8443",
				HealthEndpoint: "/status",
				Capabilities:   []string{"chat", "summarize"},
				ComplianceFlag: true,
			}
			id, err := reg.Register(cfg)
			Expect(err).NotTo(HaveOccurred())

			svc, err := reg.Get(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.ID).To(Equal(id))
			Expect(svc.Name).To(Equal(cfg.Name))
			Expect(svc.Type).To(Equal(cfg.Type))
			Expect(svc.Version).To(Equal(cfg.Version))
			Expect(svc.URL).To(Equal(cfg.URL))
			Expect(svc.HealthEndpoint).To(Equal(cfg.HealthEndpoint))
			Expect(svc.Capabilities).To(Equal(cfg.Capabilities))
			Expect(svc.ComplianceFlag).To(BeTrue())
			Expect(svc.HealthURL()).To(Equal("https://assist.internal:8443/status"))
		})

		It("should report unknown ids as not found", func() {
			_, err := reg.Get("bb-nope")
			Expect(errors.Is(err, registry.ErrNotFound)).To(BeTrue())
			Expect(apperr.KindOf(err)).To(Equal(apperr.KindNotFound))
		})
	})

	Describe("List", func() {
		It("should preserve insertion order", func() {
			for _, name := range []string{"c", "a", "b"} {
				_, err := reg.Register(serviceConfig(name))
				Expect(err).NotTo(HaveOccurred())
			}

			names := []string{}
			for _, svc := range reg.List() {
				names = append(names, svc.Name)
			}
			Expect(names).To(Equal([]string{"c", "a", "b"}))
		})

		It("should not alias internal storage", func() {
			cfg := serviceConfig("svc")
			cfg.Capabilities = []string{"one"}
			id, _ := reg.Register(cfg)

			list := reg.List()
			list[0].Name = "mutated"
			list[0].Capabilities[0] = "mutated"

			svc, _ := reg.Get(id)
			Expect(svc.Name).To(Equal("svc"))
			Expect(svc.Capabilities).To(Equal([]string{"one"}))
		})
	})

	Describe("filters", func() {
		BeforeEach(func() {
			api := serviceConfig("api-1")
			api.ComplianceFlag = true
			core := serviceConfig("core-1")
			core.Type = registry.TypeCore
			dup := serviceConfig("api-1")
			dup.URL = "http://localhost:9102"

			for _, cfg := range []registry.ServiceConfig{api, core, dup} {
				_, err := reg.Register(cfg)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should list by type", func() {
			Expect(reg.ListByType(registry.TypeAPI)).To(HaveLen(2))
			Expect(reg.ListByType(registry.TypeCore)).To(HaveLen(1))
			Expect(reg.ListByType(registry.TypeMiddleware)).To(BeEmpty())
		})

		It("should list compliant services", func() {
			compliant := reg.ListCompliant()
			Expect(compliant).To(HaveLen(1))
			Expect(compliant[0].Name).To(Equal("api-1"))
		})

		It("should find every instance sharing a name", func() {
			found := reg.FindByName("api-1")
			Expect(found).To(HaveLen(2))
			Expect(found[1].URL).To(Equal("http://localhost:9102"))
			Expect(reg.FindByName("missing")).To(BeEmpty())
		})
	})

	Describe("UpdateStatus", func() {
		var id string

		BeforeEach(func() {
			id, _ = reg.Register(serviceConfig("svc"))
		})

		It("should record status, timestamp and result", func() {
			ts := time.Now().Add(-time.Second)
			result := &registry.HealthCheckResult{
				ServiceID:      id,
				Status:         registry.StatusHealthy,
				HTTPStatus:     200,
				ResponseTimeMs: 12,
				Timestamp:      ts,
			}
			Expect(reg.UpdateStatus(id, registry.StatusHealthy, result)).To(Succeed())

			svc, _ := reg.Get(id)
			Expect(svc.Status).To(Equal(registry.StatusHealthy))
			Expect(*svc.LastHealthCheck).To(BeTemporally("==", ts))
			Expect(svc.LastHealthResult.HTTPStatus).To(Equal(200))
		})

		It("should be idempotent", func() {
			result := &registry.HealthCheckResult{ServiceID: id, Status: registry.StatusError, Timestamp: time.Now()}
			Expect(reg.UpdateStatus(id, registry.StatusError, result)).To(Succeed())
			first, _ := reg.Get(id)
			Expect(reg.UpdateStatus(id, registry.StatusError, result)).To(Succeed())
			second, _ := reg.Get(id)
			Expect(second).To(Equal(first))
		})

		It("should copy the result", func() {
			result := &registry.HealthCheckResult{
				ServiceID:  id,
				Status:     registry.StatusUnhealthy,
				Compliance: registry.ComplianceAnalysis{Issues: []string{"slow"}},
			}
			Expect(reg.UpdateStatus(id, registry.StatusUnhealthy, result)).To(Succeed())
			result.Compliance.Issues[0] = "mutated"

			svc, _ := reg.Get(id)
			Expect(svc.LastHealthResult.Compliance.Issues).To(Equal([]string{"slow"}))
		})

		It("should return not found for unknown ids", func() {
			err := reg.UpdateStatus("bb-missing", registry.StatusHealthy, nil)
			Expect(errors.Is(err, registry.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Unregister", func() {
		It("should remove and return the service", func() {
			id, _ := reg.Register(serviceConfig("svc"))

			removed, err := reg.Unregister(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed.ID).To(Equal(id))
			Expect(reg.Len()).To(Equal(0))

			_, err = reg.Get(id)
			Expect(errors.Is(err, registry.ErrNotFound)).To(BeTrue())
		})

		It("should report unknown ids as not found", func() {
			_, err := reg.Unregister("bb-missing")
			Expect(errors.Is(err, registry.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Stats", func() {
		It("should report zeros for an empty registry", func() {
			stats := reg.Stats()
			Expect(stats.Total).To(Equal(0))
			Expect(stats.ComplianceRate).To(BeZero())
			Expect(stats.CapacityMax).To(Equal(registry.DefaultCapacity))
			Expect(stats.CountsByType).To(HaveKeyWithValue(registry.TypeAPI, 0))
		})

		It("should aggregate counts", func() {
			a := serviceConfig("a")
			a.ComplianceFlag = true
			b := serviceConfig("b")
			b.Type = registry.TypeMiddleware

			idA, _ := reg.Register(a)
			_, _ = reg.Register(b)
			Expect(reg.UpdateStatus(idA, registry.StatusHealthy, nil)).To(Succeed())

			stats := reg.Stats()
			Expect(stats.Total).To(Equal(2))
			Expect(stats.CompliantCount).To(Equal(1))
			Expect(stats.ComplianceRate).To(BeNumerically("~", 50.0))
			Expect(stats.HealthyCount).To(Equal(1))
			Expect(stats.CountsByType[registry.TypeAPI]).To(Equal(1))
			Expect(stats.CountsByType[registry.TypeMiddleware]).To(Equal(1))
			Expect(stats.CountsByStatus[registry.StatusRegistered]).To(Equal(1))
			Expect(stats.CapacityUsed).To(Equal(2))
		})
	})

	It("should be safe under concurrent readers and writers", func() {
		reg = registry.New(200, logger.Discard())
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				id, err := reg.Register(serviceConfig(fmt.Sprintf("svc-%d", i)))
				if err == nil {
					_ = reg.UpdateStatus(id, registry.StatusHealthy, nil)
				}
			}(i)
			go func() {
				defer wg.Done()
				_ = reg.List()
				_ = reg.Stats()
			}()
		}
		wg.Wait()
		Expect(reg.Len()).To(Equal(50))
	})
})
