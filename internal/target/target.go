// Package target defines the components a resilience run exercises.
package target

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnreachable is returned when a component cannot be contacted at all.
var ErrUnreachable = errors.New("target unreachable")

// Observation is a raw sample of a component's observable state.
type Observation struct {
	ResponseTime time.Duration
	RenderTime   time.Duration
	ErrorRate    float64
}

// Target is any unit the harness can exercise, observe, and break.
type Target interface {
	Name() string
	Invoke(ctx context.Context) error
	Observe(ctx context.Context) (Observation, error)
	InjectFault(ctx context.Context, failure string) error
	ClearFault(ctx context.Context, failure string) error
}

// Set is an ordered name -> Target lookup.
type Set struct {
	targets map[string]Target
	order   []string
}

// NewSet builds a Set; duplicate names are rejected.
func NewSet(targets ...Target) (*Set, error) {
	s := &Set{targets: make(map[string]Target, len(targets))}
	for _, t := range targets {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a target.
func (s *Set) Add(t Target) error {
	if t == nil || t.Name() == "" {
		return errors.New("target must have a name")
	}
	if _, exists := s.targets[t.Name()]; exists {
		return fmt.Errorf("duplicate target %q", t.Name())
	}
	s.targets[t.Name()] = t
	s.order = append(s.order, t.Name())
	return nil
}

// Get returns the named target.
func (s *Set) Get(name string) (Target, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.targets[name]
	return t, ok
}

// Names returns target names in registration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Peers returns every target except name, sorted by name.
func (s *Set) Peers(name string) []Target {
	if s == nil {
		return nil
	}
	peers := make([]Target, 0, len(s.order))
	for _, n := range s.order {
		if n != name {
			peers = append(peers, s.targets[n])
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Name() < peers[j].Name() })
	return peers
}

// Len returns the number of targets.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Dependent is implemented by targets that declare upstream components.
type Dependent interface {
	Dependencies() []string
}

// Topology maps each target to its declared dependencies. Targets that declare none map to an empty list.
func (s *Set) Topology() map[string][]string {
	if s == nil {
		return nil
	}
	out := make(map[string][]string, len(s.order))
	for _, n := range s.order {
		var deps []string
		if d, ok := s.targets[n].(Dependent); ok {
			deps = d.Dependencies()
		}
		out[n] = append([]string{}, deps...)
	}
	return out
}
