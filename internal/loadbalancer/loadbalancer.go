package loadbalancer

import (
	"errors"

	"github.com/angeloszaimis/backbone/internal/apperr"
	"github.com/angeloszaimis/backbone/internal/registry"
	"github.com/angeloszaimis/backbone/internal/strategy"
)

var ErrNoInstances = errors.New("no service registered under that name")

// Finder is the registry view the load balancer needs.
type Finder interface {
	FindByName(name string) []registry.Service
}

// LoadBalancer resolves a webhook target name to one registered instance.
type LoadBalancer struct {
	finder   Finder
	strategy strategy.Strategy
}

func NewLoadBalancer(finder Finder, strategy strategy.Strategy) *LoadBalancer {
	return &LoadBalancer{
		finder:   finder,
		strategy: strategy,
	}
}

// Resolve picks an instance named name. Healthy or freshly registered
// instances are preferred; when none qualify every instance is a candidate.
func (lb *LoadBalancer) Resolve(name string) (registry.Service, error) {
	instances := lb.finder.FindByName(name)
	if len(instances) == 0 {
		return registry.Service{}, apperr.New(apperr.KindNotFound, "loadbalancer.Resolve", ErrNoInstances)
	}

	candidates := lb.filterUsable(instances)
	if len(candidates) == 0 {
		candidates = instances
	}

	chosen, ok := lb.strategy.Select(candidates)
	if !ok {
		return registry.Service{}, apperr.Newf(apperr.KindInternal, "loadbalancer.Resolve", "strategy returned no instance for %q", name)
	}

	return chosen, nil
}

func (lb *LoadBalancer) filterUsable(instances []registry.Service) []registry.Service {
	usable := make([]registry.Service, 0, len(instances))

	for _, s := range instances {
		if s.Status == registry.StatusHealthy || s.Status == registry.StatusRegistered {
			usable = append(usable, s)
		}
	}

	return usable
}

func (lb *LoadBalancer) LoadBalancerStrategy() strategy.Strategy {
	return lb.strategy
}
