package gateway

import (
	"time"

	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/models"
)

type statOutcome int

const (
	statSuccess statOutcome = iota
	statFailed
	statRateLimited
	statValidationFailed
	statComplianceFailed
)

// recordOutcome updates the process-wide counters and prometheus metrics for
// one finished request.
func (g *Gateway) recordOutcome(req *models.IngestionRequest, resp *models.IngestionResponse, size int64, outcome statOutcome) {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()

	g.stats.TotalRequests++
	g.stats.LastRequest = time.Now()

	switch outcome {
	case statSuccess:
		g.stats.SuccessfulRequests++
		g.stats.MetricsIngested += int64(resp.MetricsProcessed)
		g.stats.LogsIngested += int64(resp.LogsProcessed)
		g.stats.EventsIngested += int64(resp.EventsProcessed)
		g.stats.BytesIngested += size
	case statRateLimited:
		g.stats.RateLimited++
		g.stats.FailedRequests++
	case statValidationFailed:
		g.stats.ValidationFailures++
		g.stats.FailedRequests++
	case statComplianceFailed:
		g.stats.ComplianceFailures++
		g.stats.FailedRequests++
	default:
		g.stats.FailedRequests++
	}

	metrics.RequestsTotal.WithLabelValues(string(req.Kind), string(resp.Status)).Inc()
}

// GetStats returns a copy of the counters with the derived success rate and
// uptime filled in.
func (g *Gateway) GetStats() models.IngestionStats {
	g.statsMu.RLock()
	stats := g.stats
	g.statsMu.RUnlock()

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}
	stats.UptimeSeconds = time.Since(stats.StartedAt).Seconds()
	return stats
}
