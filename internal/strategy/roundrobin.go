package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/backbone/internal/registry"
)

type roundRobinStrategy struct {
	current uint64
}

func (rb *roundRobinStrategy) Select(candidates []registry.Service) (registry.Service, bool) {
	if len(candidates) == 0 {
		return registry.Service{}, false
	}

	n := atomic.AddUint64(&rb.current, 1)

	index := (n - 1) % uint64(len(candidates))

	return candidates[index], true
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{
		current: 0,
	}
}
