package utils

import (
	"math"
	"testing"
	"time"
)

func TestMillisRoundTrip(t *testing.T) {
	d := 1500 * time.Microsecond
	if got := Millis(d); got != 1.5 {
		t.Fatalf("expected 1.5ms, got %f", got)
	}
	if got := FromMillis(1.5); got != d {
		t.Fatalf("expected %v, got %v", d, got)
	}
	if got := FromMillis(-3); got != 0 {
		t.Fatalf("expected negative millis to clamp, got %v", got)
	}
}

func TestSafeRatio(t *testing.T) {
	if got := SafeRatio(1, 0); got != 0 {
		t.Fatalf("expected 0 for zero denominator, got %f", got)
	}
	if got := SafeRatio(math.Inf(1), 1); got != 0 {
		t.Fatalf("expected 0 for infinite result, got %f", got)
	}
	if got := SafeRatio(3, 4); got != 0.75 {
		t.Fatalf("expected 0.75, got %f", got)
	}
}

func TestErrorsOpOf(t *testing.T) {
	err := NewAppError("engine.Run", "no summary", nil)
	if OpOf(err) != "engine.Run" {
		t.Fatalf("unexpected op: %q", OpOf(err))
	}
}
