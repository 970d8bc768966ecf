package browser

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
)

func (p *Pool) scalingLoop() {
	if p.cfg.ScalingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.ScalingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.scalingPass()
		}
	}
}

// scalingPass samples demand and resizes the pool once enough samples
// agree. Demand is active leases plus queued waiters over pool size.
func (p *Pool) scalingPass() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	total := len(p.instances)
	active := 0
	for _, inst := range p.instances {
		if inst.state == StateActive {
			active++
		}
	}
	queued := len(p.waiters)
	p.mu.Unlock()

	demand := 1.0
	if total > 0 {
		demand = float64(active+queued) / float64(total)
	}

	p.demandSamples = append(p.demandSamples, demand)
	if len(p.demandSamples) > p.cfg.ScalingSamples {
		p.demandSamples = p.demandSamples[len(p.demandSamples)-p.cfg.ScalingSamples:]
	}
	if len(p.demandSamples) < p.cfg.ScalingSamples {
		return
	}

	avg := 0.0
	for _, s := range p.demandSamples {
		avg += s
	}
	avg /= float64(len(p.demandSamples))

	switch {
	case avg >= p.cfg.ScaleUpThreshold && total < p.cfg.PoolMaxSize:
		p.demandSamples = p.demandSamples[:0]
		log.Info().Float64("demand", avg).Int("size", total).Msg("Scaling pool up")
		metrics.PoolScaleEvents.WithLabelValues("up").Inc()
		p.emit(Event{Type: EventScaledUp, Details: map[string]any{"demand": avg, "size": total}})
		p.scaleUpLaunch()

	case avg <= p.cfg.ScaleDownThreshold && total > p.cfg.PoolMinSize:
		p.demandSamples = p.demandSamples[:0]

		p.mu.Lock()
		inst := p.takeIdleLocked()
		if inst != nil {
			inst.state = StateRecycling
		}
		p.mu.Unlock()
		if inst == nil {
			return
		}

		log.Info().Float64("demand", avg).Int("size", total).Msg("Scaling pool down")
		metrics.PoolScaleEvents.WithLabelValues("down").Inc()
		p.emit(Event{Type: EventScaleDown, InstanceID: inst.ID, Details: map[string]any{"demand": avg, "size": total}})
		// Close through recycle so subscribers see browser_recycled and
		// can evict pages hosted on the doomed instance.
		p.recycle(inst, "scale_down")
	}
}

func (p *Pool) scaleUpLaunch() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if _, err := p.launch(ctx); err != nil {
		log.Warn().Err(err).Msg("Scale-up launch failed")
	}
}
