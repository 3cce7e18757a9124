package healthcheck

import (
	"time"

	"github.com/angeloszaimis/backbone/internal/registry"
)

// SystemHealth aggregates the last known result of every service. Rates
// are percentages.
type SystemHealth struct {
	TotalServices     int        `json:"totalServices"`
	HealthyServices   int        `json:"healthyServices"`
	UnhealthyServices int        `json:"unhealthyServices"`
	ErrorServices     int        `json:"errorServices"`
	UncheckedServices int        `json:"uncheckedServices"`
	HealthRate        float64    `json:"healthRate"`
	ComplianceRate    float64    `json:"complianceRate"`
	LastCheck         *time.Time `json:"lastCheck"`
	State             State      `json:"monitoringState"`
}

// GetSystemHealth reads the registry only. It never probes.
func (m *Monitor) GetSystemHealth() SystemHealth {
	services := m.store.List()

	health := SystemHealth{
		TotalServices: len(services),
		State:         m.State(),
	}

	compliant := 0
	for _, s := range services {
		r := s.LastHealthResult
		if r == nil {
			health.UncheckedServices++
			continue
		}

		switch r.Status {
		case registry.StatusHealthy:
			health.HealthyServices++
		case registry.StatusUnhealthy:
			health.UnhealthyServices++
		case registry.StatusError:
			health.ErrorServices++
		}

		if r.Compliance.Compliant() {
			compliant++
		}

		if health.LastCheck == nil || r.Timestamp.After(*health.LastCheck) {
			t := r.Timestamp
			health.LastCheck = &t
		}
	}

	if health.TotalServices > 0 {
		health.HealthRate = float64(health.HealthyServices) / float64(health.TotalServices) * 100
		health.ComplianceRate = float64(compliant) / float64(health.TotalServices) * 100
	}

	return health
}
