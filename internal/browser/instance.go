package browser

import (
	"time"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/driver"
)

// InstanceState is the lifecycle state of a pooled browser.
type InstanceState string

// Instance lifecycle. Transitions only move forward out of recycling
// and closed; an instance ID is never reused.
const (
	StateStarting  InstanceState = "starting"
	StateIdle      InstanceState = "idle"
	StateActive    InstanceState = "active"
	StateUnhealthy InstanceState = "unhealthy"
	StateRecycling InstanceState = "recycling"
	StateClosed    InstanceState = "closed"
)

// HealthResult is one health probe outcome. Score is a weighted blend of
// the individual checks in [0,1].
type HealthResult struct {
	ConnectionHealthy bool      `json:"connectionHealthy"`
	Responsive        bool      `json:"responsive"`
	MemoryHealthy     bool      `json:"memoryHealthy"`
	PageCountHealthy  bool      `json:"pageCountHealthy"`
	MemoryBytes       int64     `json:"memoryBytes"`
	PageCount         int       `json:"pageCount"`
	Score             float64   `json:"score"`
	CheckedAt         time.Time `json:"checkedAt"`
}

// Instance is one pooled browser with its usage bookkeeping. All fields
// are guarded by the pool mutex.
type Instance struct {
	ID      string
	Browser driver.Browser

	state      InstanceState
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int
	health     HealthResult
}

// InstanceInfo is the externally visible snapshot of an instance.
type InstanceInfo struct {
	ID         string        `json:"id"`
	State      InstanceState `json:"state"`
	CreatedAt  time.Time     `json:"createdAt"`
	LastUsedAt time.Time     `json:"lastUsedAt"`
	UseCount   int           `json:"useCount"`
	Health     HealthResult  `json:"health"`
}

func (i *Instance) snapshot() InstanceInfo {
	return InstanceInfo{
		ID:         i.ID,
		State:      i.state,
		CreatedAt:  i.createdAt,
		LastUsedAt: i.lastUsedAt,
		UseCount:   i.useCount,
		Health:     i.health,
	}
}
