package engine

import (
	"reflect"
	"testing"
	"time"
)

func TestPlannerIsReproducible(t *testing.T) {
	planner := NewPlanner(nil)
	components := []string{"web", "api", "db"}

	a, err := planner.Build(components, 3, 42, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b, _ := planner.Build([]string{"db", "web", "api"}, 3, 42, 0)
	if !reflect.DeepEqual(a.Cases, b.Cases) {
		t.Fatalf("expected identical cases for identical seed")
	}
	if a.RunID == b.RunID {
		t.Fatalf("expected distinct run ids")
	}
	if len(a.Cases) != 3*2*3 {
		t.Fatalf("expected 18 cases, got %d", len(a.Cases))
	}
	c, _ := planner.Build(components, 3, 43, 0)
	if reflect.DeepEqual(a.Cases, c.Cases) {
		t.Fatalf("expected a different seed to change the selection")
	}
}

func TestPlannerCoversEveryComponent(t *testing.T) {
	plan, err := NewPlanner([]string{"crash"}).Build([]string{"a", "b", "c", "d"}, 1, 7, time.Minute)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	seen := map[string]bool{}
	for _, tc := range plan.Cases {
		seen[tc.Component] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected all components covered, got %v", seen)
	}
	if plan.FailureRate != 0.2 {
		t.Fatalf("expected level 1 failure rate 0.2, got %v", plan.FailureRate)
	}
	if tps := plan.TestsPerSecond(); tps <= 0 {
		t.Fatalf("expected paced plan, got %v", tps)
	}
}

func TestPlannerRejectsBadInput(t *testing.T) {
	p := NewPlanner(nil)
	if _, err := p.Build(nil, 2, 1, 0); err == nil {
		t.Fatalf("expected error without components")
	}
	if _, err := p.Build([]string{"a"}, 9, 1, 0); err == nil {
		t.Fatalf("expected error for chaos level out of range")
	}
	if FailureRateFor(5) != 1 || FailureRateFor(0) != 0.2 {
		t.Fatalf("unexpected failure rate mapping")
	}
}

func TestZeroPlannerUsesDefaults(t *testing.T) {
	var planner Planner
	plan, err := planner.Build([]string{"api", "db"}, 2, 5, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Cases) != 2*1*2 {
		t.Fatalf("expected 4 cases, got %d", len(plan.Cases))
	}
	known := map[string]bool{}
	for _, ft := range DefaultFailureTypes {
		known[ft] = true
	}
	for _, c := range plan.Cases {
		if !known[c.FailureType] {
			t.Fatalf("unexpected failure type %q", c.FailureType)
		}
	}
}
