package target

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FaultProfile describes how a failure type affects a simulated component.
type FaultProfile struct {
	LatencyFactor float64 `yaml:"latencyFactor"`
	ErrorRate     float64 `yaml:"errorRate"`
	// Sticky faults never clear: the component stays degraded after ClearFault.
	Sticky bool `yaml:"sticky"`
	// PropagationFactor multiplies dependents' latency while this component is degraded.
	PropagationFactor float64 `yaml:"propagationFactor"`
	// PropagationErrorRate is added to dependents' error rate while this component is degraded.
	PropagationErrorRate float64 `yaml:"propagationErrorRate"`
}

// DefaultFaultProfile applies when a failure type has no explicit profile.
var DefaultFaultProfile = FaultProfile{
	LatencyFactor:        3,
	ErrorRate:            0.5,
	PropagationFactor:    2,
	PropagationErrorRate: 0.1,
}

// SimulatedConfig configures an in-process component.
type SimulatedConfig struct {
	Name          string                  `yaml:"name"`
	BaseLatency   time.Duration           `yaml:"baseLatency"`
	RenderCost    time.Duration           `yaml:"renderCost"`
	BaseErrorRate float64                 `yaml:"baseErrorRate"`
	Dependencies  []string                `yaml:"dependencies"`
	RecoveryDelay time.Duration           `yaml:"recoveryDelay"`
	Faults        map[string]FaultProfile `yaml:"faults"`
	// Isolated components shield themselves from degraded dependencies (circuit breaker, cache).
	Isolated bool `yaml:"isolated"`
	// Unreachable components fail every call with ErrUnreachable.
	Unreachable bool `yaml:"unreachable"`
}

type faultState struct {
	profile   FaultProfile
	clearedAt time.Time
	active    bool
}

// Fabric connects simulated components so faults propagate along dependencies.
type Fabric struct {
	mu         sync.RWMutex
	components map[string]*Simulated
	faults     map[string]map[string]*faultState
	now        func() time.Time
}

// NewFabric creates an empty fabric. now may be nil to use time.Now.
func NewFabric(now func() time.Time) *Fabric {
	if now == nil {
		now = time.Now
	}
	return &Fabric{
		components: make(map[string]*Simulated),
		faults:     make(map[string]map[string]*faultState),
		now:        now,
	}
}

// Add creates a simulated component on the fabric.
func (f *Fabric) Add(cfg SimulatedConfig) (*Simulated, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("simulated component requires a name")
	}
	if cfg.BaseLatency <= 0 {
		cfg.BaseLatency = 20 * time.Millisecond
	}
	if cfg.RenderCost <= 0 {
		cfg.RenderCost = cfg.BaseLatency / 2
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.components[cfg.Name]; exists {
		return nil, fmt.Errorf("duplicate simulated component %q", cfg.Name)
	}
	s := &Simulated{cfg: cfg, fabric: f}
	f.components[cfg.Name] = s
	return s, nil
}

// state computes a component's current latency factor and error rate.
// Caller must hold f.mu (read).
func (f *Fabric) state(name string, visiting map[string]bool) (latencyFactor, errorRate float64, degraded bool, own FaultProfile) {
	comp, ok := f.components[name]
	if !ok || visiting[name] {
		return 1, 0, false, FaultProfile{}
	}
	visiting[name] = true
	defer delete(visiting, name)

	latencyFactor = 1
	errorRate = comp.cfg.BaseErrorRate
	now := f.now()

	for _, st := range f.faults[name] {
		recovering := !st.active && (st.profile.Sticky || now.Sub(st.clearedAt) < comp.cfg.RecoveryDelay)
		if !st.active && !recovering {
			continue
		}
		degraded = true
		own = st.profile
		if st.profile.LatencyFactor > latencyFactor {
			latencyFactor = st.profile.LatencyFactor
		}
		if st.profile.ErrorRate > errorRate {
			errorRate = st.profile.ErrorRate
		}
	}

	if !comp.cfg.Isolated {
		for _, dep := range comp.cfg.Dependencies {
			_, _, depDegraded, depProfile := f.state(dep, visiting)
			if !depDegraded {
				continue
			}
			degraded = true
			if depProfile.PropagationFactor > 1 {
				latencyFactor *= depProfile.PropagationFactor
			}
			errorRate += depProfile.PropagationErrorRate
			if own == (FaultProfile{}) {
				own = depProfile
			}
		}
	}

	if errorRate > 1 {
		errorRate = 1
	}
	return latencyFactor, errorRate, degraded, own
}

// Simulated is a deterministic in-process component.
type Simulated struct {
	cfg    SimulatedConfig
	fabric *Fabric
}

// Name implements Target.
func (s *Simulated) Name() string { return s.cfg.Name }

// Dependencies returns the configured dependency names.
func (s *Simulated) Dependencies() []string {
	return append([]string(nil), s.cfg.Dependencies...)
}

// Invoke fails while the component's error rate is at or above one half.
func (s *Simulated) Invoke(ctx context.Context) error {
	obs, err := s.Observe(ctx)
	if err != nil {
		return err
	}
	if obs.ErrorRate >= 0.5 {
		return fmt.Errorf("%s: request failed (error rate %.2f)", s.cfg.Name, obs.ErrorRate)
	}
	return nil
}

// Observe implements Target.
func (s *Simulated) Observe(ctx context.Context) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}
	if s.cfg.Unreachable {
		return Observation{}, fmt.Errorf("%s: %w", s.cfg.Name, ErrUnreachable)
	}
	s.fabric.mu.RLock()
	factor, errorRate, _, _ := s.fabric.state(s.cfg.Name, make(map[string]bool))
	s.fabric.mu.RUnlock()

	return Observation{
		ResponseTime: time.Duration(float64(s.cfg.BaseLatency) * factor),
		RenderTime:   time.Duration(float64(s.cfg.RenderCost) * factor),
		ErrorRate:    errorRate,
	}, nil
}

// InjectFault activates the profile for failure.
func (s *Simulated) InjectFault(ctx context.Context, failure string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.Unreachable {
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrUnreachable)
	}
	profile, ok := s.cfg.Faults[failure]
	if !ok {
		profile = DefaultFaultProfile
	}

	s.fabric.mu.Lock()
	defer s.fabric.mu.Unlock()
	byFailure, ok := s.fabric.faults[s.cfg.Name]
	if !ok {
		byFailure = make(map[string]*faultState)
		s.fabric.faults[s.cfg.Name] = byFailure
	}
	byFailure[failure] = &faultState{profile: profile, active: true}
	return nil
}

// ClearFault deactivates failure; the component then recovers after RecoveryDelay unless the fault is sticky.
func (s *Simulated) ClearFault(ctx context.Context, failure string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.Unreachable {
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrUnreachable)
	}

	s.fabric.mu.Lock()
	defer s.fabric.mu.Unlock()
	if st, ok := s.fabric.faults[s.cfg.Name][failure]; ok && st.active {
		st.active = false
		st.clearedAt = s.fabric.now()
	}
	return nil
}
