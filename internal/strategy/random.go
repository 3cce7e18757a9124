package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/backbone/internal/registry"
)

type randomStrategy struct{}

func (r *randomStrategy) Select(candidates []registry.Service) (registry.Service, bool) {
	if len(candidates) == 0 {
		return registry.Service{}, false
	}

	index := rand.IntN(len(candidates))
	return candidates[index], true
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}
