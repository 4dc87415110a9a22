package health

import (
	"context"
	"sync"
	"time"

	"github.com/freewebtopdf/redirect-resolver/internal/audit"
	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// LoopDetector lists the redirect loops in the current rule set
type LoopDetector interface {
	DetectLoops() []domain.Chain
}

// SystemHealthChecker implements comprehensive system health monitoring
type SystemHealthChecker struct {
	repository domain.RuleRepository
	matcher    audit.PatternMatcher
	loops      LoopDetector

	// Health check configuration
	timeout   time.Duration
	startTime time.Time

	// Cached health status to avoid expensive checks on every request
	lastCheck   time.Time
	lastHealth  domain.SystemHealth
	cacheTTL    time.Duration
	healthMutex sync.RWMutex
}

// NewSystemHealthChecker creates a new system health checker
func NewSystemHealthChecker(
	repository domain.RuleRepository,
	matcher audit.PatternMatcher,
	loops LoopDetector,
) *SystemHealthChecker {
	return &SystemHealthChecker{
		repository: repository,
		matcher:    matcher,
		loops:      loops,
		timeout:    5 * time.Second,
		cacheTTL:   30 * time.Second,
		startTime:  time.Now(),
	}
}

// WithCacheTTL sets how long a computed health result is reused
func (h *SystemHealthChecker) WithCacheTTL(ttl time.Duration) *SystemHealthChecker {
	h.cacheTTL = ttl
	return h
}

// CheckHealth performs a comprehensive system health check
func (h *SystemHealthChecker) CheckHealth(ctx context.Context) domain.SystemHealth {
	h.healthMutex.Lock()
	defer h.healthMutex.Unlock()

	// Return cached result if still valid
	if !h.lastCheck.IsZero() && time.Since(h.lastCheck) < h.cacheTTL {
		return h.lastHealth
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	now := time.Now()
	components := map[string]domain.HealthStatus{
		"storage": h.repository.HealthCheck(checkCtx),
		"matcher": h.matcher.HealthCheck(checkCtx),
		"rules":   h.checkRules(),
	}

	overallStatus := domain.HealthStatusHealthy
	for _, c := range components {
		overallStatus = aggregateStatus(overallStatus, c.Status)
	}

	systemHealth := domain.SystemHealth{
		Status:     overallStatus,
		Timestamp:  now,
		Components: components,
		Metrics:    h.collectSystemMetrics(checkCtx),
		Uptime:     time.Since(h.startTime),
	}

	h.lastCheck = now
	h.lastHealth = systemHealth

	return systemHealth
}

// CheckComponent performs a health check on a specific component
func (h *SystemHealthChecker) CheckComponent(ctx context.Context, component string) domain.HealthStatus {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	switch component {
	case "storage":
		return h.repository.HealthCheck(checkCtx)
	case "matcher":
		return h.matcher.HealthCheck(checkCtx)
	case "rules":
		return h.checkRules()
	default:
		return domain.HealthStatus{
			Status:    domain.HealthStatusUnhealthy,
			Message:   "Unknown component",
			Timestamp: time.Now(),
			Details: map[string]any{
				"component": component,
				"error":     "Component not found",
			},
		}
	}
}

// checkRules degrades health when enabled rules form loops or carry
// patterns that do not compile. Both make redirects silently not happen.
func (h *SystemHealthChecker) checkRules() domain.HealthStatus {
	snapshot := h.repository.Snapshot()
	broken := h.matcher.BrokenPatterns(snapshot.Rules)
	loops := h.loops.DetectLoops()

	details := map[string]any{
		"total":           len(snapshot.Rules),
		"enabled":         len(snapshot.Enabled()),
		"version":         snapshot.Version,
		"loops":           len(loops),
		"broken_patterns": len(broken),
	}

	if len(broken) > 0 || len(loops) > 0 {
		if len(broken) > 0 {
			details["broken_pattern_ids"] = broken
		}
		return domain.HealthStatus{
			Status:    domain.HealthStatusDegraded,
			Message:   "Rule set contains loops or broken patterns",
			Details:   details,
			Timestamp: time.Now(),
		}
	}

	return domain.HealthStatus{
		Status:    domain.HealthStatusHealthy,
		Message:   "Rule set is consistent",
		Details:   details,
		Timestamp: time.Now(),
	}
}

// aggregateStatus returns the worse of two statuses
func aggregateStatus(current, componentStatus string) string {
	// Priority: unhealthy > degraded > healthy
	statusPriority := map[string]int{
		domain.HealthStatusHealthy:   0,
		domain.HealthStatusDegraded:  1,
		domain.HealthStatusUnhealthy: 2,
	}

	if statusPriority[componentStatus] > statusPriority[current] {
		return componentStatus
	}
	return current
}

// collectSystemMetrics gathers system-wide metrics
func (h *SystemHealthChecker) collectSystemMetrics(ctx context.Context) map[string]any {
	metrics := make(map[string]any)

	if storageStats := h.repository.GetStats(ctx); storageStats != nil {
		metrics["storage"] = storageStats
	}
	if matcherStats := h.matcher.GetStats(ctx); matcherStats != nil {
		metrics["matcher"] = matcherStats
	}

	metrics["system"] = map[string]any{
		"uptime_seconds": time.Since(h.startTime).Seconds(),
		"timestamp":      time.Now(),
	}

	return metrics
}

// GetDetailedHealth returns detailed health information for debugging
func (h *SystemHealthChecker) GetDetailedHealth(ctx context.Context) map[string]any {
	systemHealth := h.CheckHealth(ctx)

	h.healthMutex.RLock()
	lastCheckAge := time.Since(h.lastCheck)
	h.healthMutex.RUnlock()

	return map[string]any{
		"overall_status": systemHealth.Status,
		"timestamp":      systemHealth.Timestamp,
		"components":     systemHealth.Components,
		"metrics":        systemHealth.Metrics,
		"diagnostics": map[string]any{
			"health_check_timeout": h.timeout.String(),
			"cache_ttl":            h.cacheTTL.String(),
			"last_check_age":       lastCheckAge.String(),
		},
	}
}

// IsHealthy returns true if the system is healthy
func (h *SystemHealthChecker) IsHealthy(ctx context.Context) bool {
	return h.CheckHealth(ctx).Status == domain.HealthStatusHealthy
}
