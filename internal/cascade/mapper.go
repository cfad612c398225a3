// Package cascade accumulates failure cascades observed during a run and answers trigger/affect queries.
package cascade

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// Mapper is the thread-safe cascade set of a run.
type Mapper struct {
	mu       sync.RWMutex
	cascades []models.FailureCascade
	now      func() time.Time
}

// NewMapper returns an empty mapper.
func NewMapper() *Mapper {
	return &Mapper{now: time.Now}
}

// RecordCascade normalises and stores one root-failure event.
// Duplicates are removed, root is dropped from both lists, and a component listed as both effect and resilient counts as an effect.
func (m *Mapper) RecordCascade(root string, effects, resilient []string, duration time.Duration) models.FailureCascade {
	effectSet := normalise(effects, root, nil)
	resilientSet := normalise(resilient, root, effectSet)

	cascade := models.FailureCascade{
		ID:                  uuid.NewString(),
		Root:                root,
		Effects:             sortedKeys(effectSet),
		ResilientComponents: sortedKeys(resilientSet),
		Timestamp:           m.now(),
		DurationMs:          float64(duration) / float64(time.Millisecond),
	}

	m.mu.Lock()
	m.cascades = append(m.cascades, cascade)
	m.mu.Unlock()
	return cascade
}

// GetCascadesForComponent returns the components whose failures affected component (Triggers)
// and the components affected when component failed (Affects). Both lists are sorted and de-duplicated.
func (m *Mapper) GetCascadesForComponent(component string) models.CascadeRelations {
	m.mu.RLock()
	defer m.mu.RUnlock()

	triggers := make(map[string]struct{})
	affects := make(map[string]struct{})
	for _, c := range m.cascades {
		if c.Root == component {
			for _, e := range c.Effects {
				affects[e] = struct{}{}
			}
			continue
		}
		for _, e := range c.Effects {
			if e == component {
				triggers[c.Root] = struct{}{}
				break
			}
		}
	}
	return models.CascadeRelations{Triggers: sortedKeys(triggers), Affects: sortedKeys(affects)}
}

// Cascades returns a copy of every recorded cascade in record order.
func (m *Mapper) Cascades() []models.FailureCascade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FailureCascade, len(m.cascades))
	copy(out, m.cascades)
	return out
}

// Load appends previously persisted cascades, normalising each one.
func (m *Mapper) Load(cascades []models.FailureCascade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cascades {
		if c.Root == "" {
			continue
		}
		effectSet := normalise(c.Effects, c.Root, nil)
		c.Effects = sortedKeys(effectSet)
		c.ResilientComponents = sortedKeys(normalise(c.ResilientComponents, c.Root, effectSet))
		m.cascades = append(m.cascades, c)
	}
}

// Map groups cascades by root; this is the persisted cascade-map record.
func (m *Mapper) Map() map[string][]models.FailureCascade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]models.FailureCascade)
	for _, c := range m.cascades {
		out[c.Root] = append(out[c.Root], c)
	}
	return out
}

// Components returns every component named in any cascade, sorted.
func (m *Mapper) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]struct{})
	for _, c := range m.cascades {
		set[c.Root] = struct{}{}
		for _, e := range c.Effects {
			set[e] = struct{}{}
		}
		for _, r := range c.ResilientComponents {
			set[r] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Reset drops every recorded cascade.
func (m *Mapper) Reset() {
	m.mu.Lock()
	m.cascades = nil
	m.mu.Unlock()
}

// Flatten turns a persisted cascade map back into a list ordered by timestamp.
func Flatten(byRoot map[string][]models.FailureCascade) []models.FailureCascade {
	out := make([]models.FailureCascade, 0)
	for _, cs := range byRoot {
		out = append(out, cs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func normalise(names []string, root string, exclude map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" || n == root {
			continue
		}
		if _, skip := exclude[n]; skip {
			continue
		}
		out[n] = struct{}{}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
