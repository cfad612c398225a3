package harness

import (
	"fmt"
	"time"
)

// Backpressure policies applied when the concurrency cap is reached.
const (
	// BackpressureBlock waits up to AcquireTimeout for a slot, then defers.
	BackpressureBlock = "block"
	// BackpressureDefer defers immediately when no slot is free.
	BackpressureDefer = "defer"
)

// Config controls how tests are injected and judged.
type Config struct {
	// FailureRate is the probability that a requested test actually injects its fault.
	FailureRate float64
	// MaxConcurrentFailures caps simultaneously active faults when the harness builds its own limiter.
	MaxConcurrentFailures int
	// Journal appends every raw outcome to the run journal.
	Journal        bool
	Backpressure   string
	AcquireTimeout time.Duration
	// MaxDeferrals is how often Run re-queues a deferred test before recording it as failed.
	MaxDeferrals int
	// Workers is the number of tests Run drives at once.
	Workers int
	// TestsPerSecond paces test starts; zero means unpaced.
	TestsPerSecond float64

	// FaultDuration holds the fault before the post-failure capture.
	FaultDuration   time.Duration
	RecoveryTimeout time.Duration
	PollInterval    time.Duration
	// RecoveryTolerance is the accepted timing ratio overshoot (0.2 = within 20% of baseline).
	RecoveryTolerance float64
	// ErrorRateTolerance is the accepted error-rate increase over baseline.
	ErrorRateTolerance float64
	// CascadeThreshold is the peer timing ratio above which a peer counts as affected.
	CascadeThreshold float64
	// ObservePeers enables cascade observation of every other target during a test.
	ObservePeers bool
}

// DefaultConfig returns the settings used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		FailureRate:           1,
		MaxConcurrentFailures: 2,
		Backpressure:          BackpressureBlock,
		AcquireTimeout:        30 * time.Second,
		MaxDeferrals:          3,
		Workers:               4,
		RecoveryTimeout:       10 * time.Second,
		PollInterval:          100 * time.Millisecond,
		RecoveryTolerance:     0.2,
		ErrorRateTolerance:    0.05,
		CascadeThreshold:      1.5,
		ObservePeers:          true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentFailures <= 0 {
		c.MaxConcurrentFailures = d.MaxConcurrentFailures
	}
	if c.Backpressure == "" {
		c.Backpressure = d.Backpressure
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.MaxDeferrals < 0 {
		c.MaxDeferrals = 0
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RecoveryTolerance <= 0 {
		c.RecoveryTolerance = d.RecoveryTolerance
	}
	if c.ErrorRateTolerance <= 0 {
		c.ErrorRateTolerance = d.ErrorRateTolerance
	}
	if c.CascadeThreshold <= 1 {
		c.CascadeThreshold = d.CascadeThreshold
	}
	return c
}

// Validate rejects settings outside their domains.
func (c Config) Validate() error {
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return fmt.Errorf("failure rate %v outside [0,1]", c.FailureRate)
	}
	if c.MaxConcurrentFailures < 0 {
		return fmt.Errorf("max concurrent failures must be >= 1, got %d", c.MaxConcurrentFailures)
	}
	switch c.Backpressure {
	case "", BackpressureBlock, BackpressureDefer:
	default:
		return fmt.Errorf("unknown backpressure policy %q", c.Backpressure)
	}
	if c.TestsPerSecond < 0 {
		return fmt.Errorf("tests per second must not be negative")
	}
	return nil
}
