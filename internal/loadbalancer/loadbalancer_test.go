package loadbalancer_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/backbone/internal/apperr"
	"github.com/angeloszaimis/backbone/internal/loadbalancer"
	"github.com/angeloszaimis/backbone/internal/registry"
	"github.com/angeloszaimis/backbone/internal/strategy"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

var _ = Describe("LoadBalancer", func() {
	var (
		reg *registry.Registry
		lb  *loadbalancer.LoadBalancer
		ids []string
	)

	register := func(name, url string) string {
		id, err := reg.Register(registry.ServiceConfig{
			Name:    name,
			Type:    registry.TypeAPI,
			Version: "1.0.0",
			URL:     url,
		})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	BeforeEach(func() {
		reg = registry.New(10, logger.Discard())
		lb = loadbalancer.NewLoadBalancer(reg, strategy.NewRoundRobinStrategy())

		ids = []string{
			register("orders", "http://localhost:8081"),
			register("orders", "http://localhost:8082"),
			register("billing", "http://localhost:8083"),
		}
	})

	Describe("NewLoadBalancer", func() {
		It("should create a load balancer with given strategy", func() {
			Expect(lb).NotTo(BeNil())
			Expect(lb.LoadBalancerStrategy()).NotTo(BeNil())
		})
	})

	Describe("Resolve", func() {
		It("should return the only instance of a name", func() {
			svc, err := lb.Resolve("billing")
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.ID).To(Equal(ids[2]))
		})

		It("should rotate across instances sharing a name", func() {
			first, err := lb.Resolve("orders")
			Expect(err).NotTo(HaveOccurred())
			second, err := lb.Resolve("orders")
			Expect(err).NotTo(HaveOccurred())

			Expect([]string{first.ID, second.ID}).To(ConsistOf(ids[0], ids[1]))
		})

		It("should skip unhealthy instances while a usable one exists", func() {
			Expect(reg.UpdateStatus(ids[0], registry.StatusUnhealthy, nil)).To(Succeed())

			for i := 0; i < 4; i++ {
				svc, err := lb.Resolve("orders")
				Expect(err).NotTo(HaveOccurred())
				Expect(svc.ID).To(Equal(ids[1]))
			}
		})

		It("should fall back to every instance when none is usable", func() {
			Expect(reg.UpdateStatus(ids[0], registry.StatusUnhealthy, nil)).To(Succeed())
			Expect(reg.UpdateStatus(ids[1], registry.StatusError, nil)).To(Succeed())

			svc, err := lb.Resolve("orders")
			Expect(err).NotTo(HaveOccurred())
			Expect([]string{ids[0], ids[1]}).To(ContainElement(svc.ID))
		})

		It("should return a not found error for unknown names", func() {
			_, err := lb.Resolve("inventory")
			Expect(err).To(MatchError(loadbalancer.ErrNoInstances))
			Expect(apperr.IsKind(err, apperr.KindNotFound)).To(BeTrue())
		})
	})
})
