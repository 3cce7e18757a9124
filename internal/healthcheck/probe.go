package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/backbone/internal/apperr"
	"github.com/angeloszaimis/backbone/internal/metrics"
	"github.com/angeloszaimis/backbone/internal/registry"
)

const maxProbeBody = 1 << 20

type probeBody struct {
	Status         string `json:"status"`
	ComplianceFlag bool   `json:"complianceFlag"`
	Performance    *struct {
		MemoryMB *float64 `json:"memoryMB"`
	} `json:"performance"`
}

// CheckServiceHealth probes svc once. It never returns an error: failures
// are folded into the result.
func (m *Monitor) CheckServiceHealth(ctx context.Context, svc registry.Service) registry.HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result := registry.HealthCheckResult{ServiceID: svc.ID}

	resp, err := m.get(ctx, svc.HealthURL())
	elapsed := time.Since(start)
	result.ResponseTimeMs = elapsed.Milliseconds()
	result.Timestamp = m.now()

	if err != nil {
		probeErr := apperr.New(apperr.KindProbe, "healthcheck.CheckServiceHealth", err)
		m.logger.Debug("Probe failed",
			slog.String("service", svc.ID),
			slog.String("url", svc.HealthURL()),
			slog.Any("err", probeErr))

		result.Status = registry.StatusError
		result.Error = err.Error()
		result.Compliance = registry.ComplianceAnalysis{
			Issues: []string{"health endpoint unreachable"},
		}
		m.record(result, elapsed)
		return result
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode

	var body probeBody
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxProbeBody)).Decode(&body)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		result.Status = registry.StatusUnhealthy
		result.Error = fmt.Sprintf("health endpoint returned %d", resp.StatusCode)
	case decodeErr != nil:
		result.Status = registry.StatusUnhealthy
		result.Error = "health response is not valid JSON"
	case body.Status == "ok" || body.Status == "healthy":
		result.Status = registry.StatusHealthy
	default:
		result.Status = registry.StatusUnhealthy
		result.Error = fmt.Sprintf("service reported status %q", body.Status)
	}

	result.Compliance = m.analyze(elapsed, body)

	m.logger.Debug("Probe completed",
		slog.String("service", svc.ID),
		slog.String("status", string(result.Status)),
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("took", elapsed))

	m.record(result, elapsed)
	return result
}

func (m *Monitor) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	return m.client.Do(req)
}

func (m *Monitor) analyze(elapsed time.Duration, body probeBody) registry.ComplianceAnalysis {
	analysis := registry.ComplianceAnalysis{
		ResponseTimeCompliant: elapsed < m.cfg.ResponseTimeBudget,
		ComplianceFlag:        body.ComplianceFlag,
		Issues:                []string{},
	}

	if !analysis.ResponseTimeCompliant {
		analysis.Issues = append(analysis.Issues, fmt.Sprintf(
			"response time %dms exceeds %dms budget",
			elapsed.Milliseconds(), m.cfg.ResponseTimeBudget.Milliseconds()))
	}

	if !analysis.ComplianceFlag {
		analysis.Issues = append(analysis.Issues, "compliance flag not declared")
	}

	if body.Performance != nil && body.Performance.MemoryMB != nil && *body.Performance.MemoryMB > m.cfg.MemoryBudgetMB {
		analysis.Issues = append(analysis.Issues, fmt.Sprintf(
			"memory usage %.1fMB exceeds %.0fMB budget",
			*body.Performance.MemoryMB, m.cfg.MemoryBudgetMB))
	}

	return analysis
}

func (m *Monitor) record(result registry.HealthCheckResult, elapsed time.Duration) {
	m.metrics.Emit(metrics.MetricEvent{
		Type:     metrics.EventProbeCompleted,
		Status:   string(result.Status),
		Duration: elapsed,
	})
}
