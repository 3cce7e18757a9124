package registry

import (
	"strings"
	"time"
)

type ServiceType string

const (
	TypeCore       ServiceType = "core"
	TypeAPI        ServiceType = "api"
	TypeMiddleware ServiceType = "middleware"
	TypeAssistant  ServiceType = "assistant"
)

// ServiceTypes lists every accepted service type.
var ServiceTypes = []ServiceType{TypeCore, TypeAPI, TypeMiddleware, TypeAssistant}

type Status string

const (
	StatusRegistered Status = "registered"
	StatusHealthy    Status = "healthy"
	StatusUnhealthy  Status = "unhealthy"
	StatusError      Status = "error"
)

const DefaultHealthEndpoint = "/health"

// ComplianceAnalysis is derived from one probe response.
type ComplianceAnalysis struct {
	ResponseTimeCompliant bool     `json:"responseTimeCompliant"`
	ComplianceFlag        bool     `json:"complianceFlag"`
	Issues                []string `json:"issues"`
}

// Compliant reports whether both criteria held.
func (c ComplianceAnalysis) Compliant() bool {
	return c.ResponseTimeCompliant && c.ComplianceFlag
}

// HealthCheckResult is the outcome of a single probe. HTTPStatus is zero
// when no response was received.
type HealthCheckResult struct {
	ServiceID      string             `json:"serviceId"`
	Status         Status             `json:"status"`
	HTTPStatus     int                `json:"httpStatus,omitempty"`
	ResponseTimeMs int64              `json:"responseTimeMs"`
	Compliance     ComplianceAnalysis `json:"complianceAnalysis"`
	Timestamp      time.Time          `json:"timestamp"`
	Error          string             `json:"error,omitempty"`
}

func (r *HealthCheckResult) clone() *HealthCheckResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Compliance.Issues = append([]string(nil), r.Compliance.Issues...)
	return &c
}

type Service struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Type             ServiceType        `json:"type"`
	Version          string             `json:"version"`
	URL              string             `json:"url"`
	HealthEndpoint   string             `json:"healthEndpoint"`
	Capabilities     []string           `json:"capabilities"`
	ComplianceFlag   bool               `json:"complianceFlag"`
	Status           Status             `json:"status"`
	RegisteredAt     time.Time          `json:"registeredAt"`
	LastHealthCheck  *time.Time         `json:"lastHealthCheck"`
	LastHealthResult *HealthCheckResult `json:"lastHealthResult"`
}

// HealthURL is the address probed by the health monitor.
func (s Service) HealthURL() string {
	return strings.TrimRight(s.URL, "/") + s.HealthEndpoint
}

// Endpoint joins the service base URL with path.
func (s Service) Endpoint(path string) string {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(s.URL, "/") + path
}

func (s *Service) clone() Service {
	c := *s
	c.Capabilities = append([]string(nil), s.Capabilities...)
	if s.LastHealthCheck != nil {
		t := *s.LastHealthCheck
		c.LastHealthCheck = &t
	}
	c.LastHealthResult = s.LastHealthResult.clone()
	return c
}

// Stats is a read-only projection over the registry.
type Stats struct {
	Total          int                 `json:"total"`
	CompliantCount int                 `json:"compliant"`
	ComplianceRate float64             `json:"complianceRate"`
	CountsByType   map[ServiceType]int `json:"byType"`
	CountsByStatus map[Status]int      `json:"byStatus"`
	HealthyCount   int                 `json:"healthy"`
	CapacityUsed   int                 `json:"capacityUsed"`
	CapacityMax    int                 `json:"capacityMax"`
}
