package strategy

import (
	"github.com/angeloszaimis/backbone/internal/registry"
)

type Strategy interface {
	// Select returns false when candidates is empty.
	Select(candidates []registry.Service) (registry.Service, bool)
}
