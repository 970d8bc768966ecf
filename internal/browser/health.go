package browser

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Health score weights. Connection and responsiveness dominate because
// a disconnected browser is useless regardless of its resource state.
const (
	weightConnection = 0.35
	weightResponsive = 0.25
	weightMemory     = 0.25
	weightPages      = 0.15
)

func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runHealthPass()
		}
	}
}

// runHealthPass probes idle instances and recycles the ones the
// configured strategy condemns. Active instances are skipped; they are
// evaluated on release.
func (p *Pool) runHealthPass() {
	p.mu.Lock()
	candidates := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		if inst.state == StateIdle || inst.state == StateUnhealthy {
			candidates = append(candidates, inst)
		}
	}
	p.mu.Unlock()

	for _, inst := range candidates {
		result := p.checkInstance(inst)

		p.mu.Lock()
		if inst.state != StateIdle && inst.state != StateUnhealthy {
			// Leased while we were probing; discard the result.
			p.mu.Unlock()
			continue
		}
		inst.health = result
		reason, due := p.recycleDecisionLocked(inst, result)
		if due {
			inst.state = StateRecycling
		} else if !result.ConnectionHealthy || !result.Responsive {
			inst.state = StateUnhealthy
		} else if inst.state == StateUnhealthy {
			inst.state = StateIdle
			p.idle = append(p.idle, inst.ID)
		}
		p.mu.Unlock()

		if due {
			p.recycle(inst, reason)
		} else if inst.state == StateUnhealthy {
			p.emit(Event{Type: EventUnhealthy, InstanceID: inst.ID, Details: map[string]any{"score": result.Score}})
		}
	}

	p.ensureMinimum()
}

// checkInstance probes one browser and scores it.
func (p *Pool) checkInstance(inst *Instance) HealthResult {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := HealthResult{CheckedAt: time.Now()}

	err := inst.Browser.Healthy(ctx)
	result.ConnectionHealthy = err == nil
	result.Responsive = err == nil
	if err != nil {
		log.Debug().Err(err).Str("instance_id", inst.ID).Msg("Browser health probe failed")
	}

	if mem, err := inst.Browser.MemoryUsage(ctx); err == nil {
		result.MemoryBytes = mem
	}
	limit := int64(p.cfg.MaxMemoryMB) * 1024 * 1024
	result.MemoryHealthy = limit <= 0 || result.MemoryBytes < limit

	if n, err := inst.Browser.PageCount(ctx); err == nil {
		result.PageCount = n
	}
	result.PageCountHealthy = p.cfg.MaxPagesPerBrowser <= 0 || result.PageCount < p.cfg.MaxPagesPerBrowser

	result.Score = healthScore(result)
	return result
}

func healthScore(r HealthResult) float64 {
	score := 0.0
	if r.ConnectionHealthy {
		score += weightConnection
	}
	if r.Responsive {
		score += weightResponsive
	}
	if r.MemoryHealthy {
		score += weightMemory
	}
	if r.PageCountHealthy {
		score += weightPages
	}
	return score
}

// ensureMinimum launches browsers until the pool floor is met.
func (p *Pool) ensureMinimum() {
	for {
		p.mu.Lock()
		need := !p.shutdown && len(p.instances)+p.launching < p.cfg.PoolMinSize
		p.mu.Unlock()
		if !need {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		_, err := p.launch(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("Pool floor launch failed")
			return
		}
	}
}
