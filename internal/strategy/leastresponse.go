package strategy

import (
	"github.com/angeloszaimis/backbone/internal/registry"
)

type leastResponseStrategy struct{}

// Select prefers the instance whose last probe answered fastest. Instances
// that were never probed, or whose probe got no response, rank last.
func (l *leastResponseStrategy) Select(candidates []registry.Service) (registry.Service, bool) {
	if len(candidates) == 0 {
		return registry.Service{}, false
	}

	chosen := -1
	var best int64

	for i, s := range candidates {
		r := s.LastHealthResult
		if r == nil || r.HTTPStatus == 0 {
			continue
		}

		if chosen == -1 || r.ResponseTimeMs < best {
			chosen = i
			best = r.ResponseTimeMs
		}
	}

	if chosen == -1 {
		return candidates[0], true
	}

	return candidates[chosen], true
}

func NewLeastResponseStrategy() Strategy {
	return &leastResponseStrategy{}
}
