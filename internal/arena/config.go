package arena

import "time"

// Config holds the orchestrator timings.
type Config struct {
	StartDelay      time.Duration `env:"START_DELAY" yaml:"start_delay"`
	TickInterval    time.Duration `env:"TICK_INTERVAL" yaml:"tick_interval"`
	InactivityGrace time.Duration `env:"INACTIVITY_GRACE" yaml:"inactivity_grace"`
	InactivityFloor time.Duration `env:"INACTIVITY_FLOOR" yaml:"inactivity_floor"`
	InactivityRatio float64       `env:"INACTIVITY_RATIO" yaml:"inactivity_ratio"`
	AdvisoryRatio   float64       `env:"ADVISORY_RATIO" yaml:"advisory_ratio"`
	DisconnectGrace time.Duration `env:"DISCONNECT_GRACE" yaml:"disconnect_grace"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" yaml:"sweep_interval"`
	StaleAfter      time.Duration `env:"STALE_AFTER" yaml:"stale_after"`
	SweepBatch      int64         `env:"SWEEP_BATCH" yaml:"sweep_batch"`
}

func DefaultConfig() Config {
	return Config{
		StartDelay:      5 * time.Second,
		TickInterval:    time.Second,
		InactivityGrace: 2 * time.Minute,
		InactivityFloor: 60 * time.Second,
		InactivityRatio: 0.15,
		AdvisoryRatio:   0.7,
		DisconnectGrace: 5 * time.Minute,
		SweepInterval:   5 * time.Minute,
		StaleAfter:      10 * time.Minute,
		SweepBatch:      500,
	}
}

// withDefaults fills zero fields. InactivityGrace and StartDelay may
// legitimately be zero and are only defaulted when negative.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StartDelay < 0 {
		c.StartDelay = d.StartDelay
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.InactivityGrace < 0 {
		c.InactivityGrace = d.InactivityGrace
	}
	if c.InactivityFloor <= 0 {
		c.InactivityFloor = d.InactivityFloor
	}
	if c.InactivityRatio <= 0 {
		c.InactivityRatio = d.InactivityRatio
	}
	if c.AdvisoryRatio <= 0 || c.AdvisoryRatio >= 1 {
		c.AdvisoryRatio = d.AdvisoryRatio
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = d.DisconnectGrace
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = d.SweepBatch
	}
	return c
}

// InactivityLimit is max(floor, ratio * allotment).
func (c Config) InactivityLimit(allotment time.Duration) time.Duration {
	limit := time.Duration(float64(allotment) * c.InactivityRatio)
	if limit < c.InactivityFloor {
		return c.InactivityFloor
	}
	return limit
}

func (c Config) tickSeconds() int {
	n := int(c.TickInterval / time.Second)
	if n < 1 {
		return 1
	}
	return n
}
