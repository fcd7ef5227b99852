package services

import (
	"testing"
	"time"
)

func TestCircuitBreakerTransitions(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, 10*time.Second)
	cb.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if !cb.Allow() {
			t.Fatalf("call %d rejected while closed", i)
		}
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("state after 2 failures = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state after 3 failures = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open circuit allowed a call")
	}

	clock = clock.Add(11 * time.Second)
	if !cb.Allow() {
		t.Fatal("probe rejected after cooldown")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %v, want half_open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("second probe allowed while first in flight")
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("failed probe left state %v, want open", cb.State())
	}

	clock = clock.Add(11 * time.Second)
	if !cb.Allow() {
		t.Fatal("probe rejected after second cooldown")
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("successful probe left state %v, want closed", cb.State())
	}
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatalf("non-consecutive failures opened the circuit")
	}
}

func TestCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(0, 0)
	if cb.threshold != 5 || cb.cooldown != 30*time.Second {
		t.Errorf("defaults = %d, %v", cb.threshold, cb.cooldown)
	}
}

func TestCircuitBreakerReleaseFreesProbe(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = func() time.Time { return clock }

	cb.RecordFailure()
	clock = clock.Add(11 * time.Second)
	if !cb.Allow() {
		t.Fatal("probe rejected after cooldown")
	}
	cb.Release()
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state after release = %v, want half_open", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("released probe slot was not reusable")
	}
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}
