package browser

import (
	"time"
)

// Hybrid strategy weights. Each component is normalized to [0,1] where
// 1 means the instance should definitely be recycled; the instance is
// condemned when the weighted sum crosses the cutoff.
const (
	hybridWeightTime     = 0.25
	hybridWeightUsage    = 0.25
	hybridWeightHealth   = 0.30
	hybridWeightResource = 0.20
	hybridCutoff         = 0.60
)

// recycleDecisionLocked applies the configured strategy to one instance.
// A dead connection always condemns; everything else respects the
// recycling cooldown, and lifetime-based recycling prefers the
// maintenance window.
func (p *Pool) recycleDecisionLocked(inst *Instance, health HealthResult) (string, bool) {
	if !health.ConnectionHealthy {
		return "connection_lost", true
	}

	now := time.Now()
	if p.cfg.RecyclingCooldown > 0 && now.Sub(p.lastRecycleAt) < p.cfg.RecyclingCooldown {
		return "", false
	}

	switch p.cfg.RecycleStrategy {
	case "time":
		return p.timeDecision(inst, now)
	case "usage":
		if p.cfg.MaxBrowserUses > 0 && inst.useCount >= p.cfg.MaxBrowserUses {
			return "use_count", true
		}
	case "health":
		if health.Score < p.cfg.RecycleHealthFloor {
			return "health_score", true
		}
	case "resource":
		if !health.MemoryHealthy {
			return "memory_limit", true
		}
		if !health.PageCountHealthy {
			return "page_limit", true
		}
	default: // hybrid
		if score := p.hybridScore(inst, health, now); score >= hybridCutoff {
			return "hybrid_score", true
		}
	}
	return "", false
}

func (p *Pool) timeDecision(inst *Instance, now time.Time) (string, bool) {
	age := now.Sub(inst.createdAt)
	idle := now.Sub(inst.lastUsedAt)

	if p.cfg.MaxBrowserIdleTime > 0 && idle >= p.cfg.MaxBrowserIdleTime {
		return "idle_timeout", true
	}
	if p.cfg.MaxBrowserLifetime > 0 && age >= p.cfg.MaxBrowserLifetime {
		// Lifetime rotation waits for the maintenance window unless the
		// instance is badly overdue.
		if p.cfg.InMaintenanceWindow(now) || age >= p.cfg.MaxBrowserLifetime*3/2 {
			return "lifetime", true
		}
	}
	return "", false
}

// hybridScore blends age, usage, health, and resource pressure.
func (p *Pool) hybridScore(inst *Instance, health HealthResult, now time.Time) float64 {
	timeScore := 0.0
	if p.cfg.MaxBrowserLifetime > 0 {
		timeScore = clamp01(float64(now.Sub(inst.createdAt)) / float64(p.cfg.MaxBrowserLifetime))
	}
	if p.cfg.MaxBrowserIdleTime > 0 {
		if s := clamp01(float64(now.Sub(inst.lastUsedAt)) / float64(p.cfg.MaxBrowserIdleTime)); s > timeScore {
			timeScore = s
		}
	}

	usageScore := 0.0
	if p.cfg.MaxBrowserUses > 0 {
		usageScore = clamp01(float64(inst.useCount) / float64(p.cfg.MaxBrowserUses))
	}

	healthScore := 1 - health.Score

	resourceScore := 0.0
	if limit := int64(p.cfg.MaxMemoryMB) * 1024 * 1024; limit > 0 {
		resourceScore = clamp01(float64(health.MemoryBytes) / float64(limit))
	}
	if p.cfg.MaxPagesPerBrowser > 0 {
		if s := clamp01(float64(health.PageCount) / float64(p.cfg.MaxPagesPerBrowser)); s > resourceScore {
			resourceScore = s
		}
	}

	return hybridWeightTime*timeScore +
		hybridWeightUsage*usageScore +
		hybridWeightHealth*healthScore +
		hybridWeightResource*resourceScore
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
