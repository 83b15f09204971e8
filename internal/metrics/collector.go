// Package metrics keeps running statistics about poll cycles.
package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Collector accumulates poll cycle statistics
type Collector struct {
	clock clock.Clock

	mu                 sync.RWMutex
	cycles             int64
	records            int64
	overflows          int64
	unavailable        int64
	queryFailures      int64
	saveFailures       int64
	lastCycleDuration  time.Duration
	lastCycleAt        time.Time
	startedAt          time.Time
	unavailableSources map[string]int64
}

// Cycle describes one completed poll cycle
type Cycle struct {
	Duration    time.Duration
	Records     int
	Overflows   int
	Unavailable []string // Source ids that could not be read
	QueryErrors int
	SaveFailed  bool
}

// Snapshot is a point-in-time copy of the statistics
type Snapshot struct {
	Cycles             int64            `json:"cycles"`
	Records            int64            `json:"records"`
	Overflows          int64            `json:"overflows"`
	Unavailable        int64            `json:"unavailable"`
	QueryFailures      int64            `json:"query_failures"`
	SaveFailures       int64            `json:"save_failures"`
	LastCycleMillis    float64          `json:"last_cycle_ms"`
	LastCycleAt        *time.Time       `json:"last_cycle_at,omitempty"`
	UptimeSeconds      float64          `json:"uptime_seconds"`
	UnavailableSources map[string]int64 `json:"unavailable_sources"`
}

// NewCollector creates a collector; a nil clock uses the wall clock
func NewCollector(clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.New()
	}
	return &Collector{
		clock:              clk,
		startedAt:          clk.Now(),
		unavailableSources: make(map[string]int64),
	}
}

// Now returns the collector's current time
func (c *Collector) Now() time.Time {
	return c.clock.Now()
}

// Since returns the time elapsed since t on the collector's clock
func (c *Collector) Since(t time.Time) time.Duration {
	return c.clock.Since(t)
}

// Record adds a completed cycle
func (c *Collector) Record(cycle Cycle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cycles++
	c.records += int64(cycle.Records)
	c.overflows += int64(cycle.Overflows)
	c.unavailable += int64(len(cycle.Unavailable))
	c.queryFailures += int64(cycle.QueryErrors)
	if cycle.SaveFailed {
		c.saveFailures++
	}
	for _, id := range cycle.Unavailable {
		c.unavailableSources[id]++
	}
	c.lastCycleDuration = cycle.Duration
	c.lastCycleAt = c.clock.Now()
}

// Snapshot returns the current statistics
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sources := make(map[string]int64, len(c.unavailableSources))
	for id, n := range c.unavailableSources {
		sources[id] = n
	}

	s := Snapshot{
		Cycles:             c.cycles,
		Records:            c.records,
		Overflows:          c.overflows,
		Unavailable:        c.unavailable,
		QueryFailures:      c.queryFailures,
		SaveFailures:       c.saveFailures,
		LastCycleMillis:    float64(c.lastCycleDuration.Microseconds()) / 1000,
		UptimeSeconds:      c.clock.Since(c.startedAt).Seconds(),
		UnavailableSources: sources,
	}
	if !c.lastCycleAt.IsZero() {
		at := c.lastCycleAt
		s.LastCycleAt = &at
	}
	return s
}
