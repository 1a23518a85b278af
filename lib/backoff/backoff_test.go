package backoff

import (
	"testing"
	"time"
)

func TestZeroValueSpins(t *testing.T) {
	var b Backoff
	if b.Sleeping() {
		t.Errorf("Expected zero value backoff to spin")
	}
	b.Wait()
	if b.Ticks() != 1 {
		t.Errorf("Expected 1 tick after Wait, got %d", b.Ticks())
	}
	if b.SleepDuration() != 0 {
		t.Errorf("Expected no sleep while spinning, got %v", b.SleepDuration())
	}
}

func TestSleepDoublesAndClamps(t *testing.T) {
	b := New(&Options{SpinTicks: 2, MinSleep: time.Microsecond, MaxSleep: 8 * time.Microsecond})

	expected := []struct {
		ticks int
		sleep time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, time.Microsecond},
		{3, time.Microsecond},
		{4, 2 * time.Microsecond},
		{6, 4 * time.Microsecond},
		{8, 8 * time.Microsecond},
		{10, 8 * time.Microsecond},
		{1000, 8 * time.Microsecond},
	}

	for _, e := range expected {
		b.Reset()
		b.Inc(e.ticks)
		if got := b.SleepDuration(); got != e.sleep {
			t.Errorf("Expected sleep %v at %d ticks, got %v", e.sleep, e.ticks, got)
		}
	}
}

func TestDecShrinksSymmetrically(t *testing.T) {
	b := New(&Options{SpinTicks: 2, MinSleep: time.Microsecond, MaxSleep: time.Millisecond})
	b.Inc(6)
	if got := b.SleepDuration(); got != 4*time.Microsecond {
		t.Fatalf("Expected 4µs at 6 ticks, got %v", got)
	}

	b.Dec(2)
	if got := b.SleepDuration(); got != 2*time.Microsecond {
		t.Errorf("Expected 2µs after Dec(2), got %v", got)
	}

	b.Dec(100)
	if b.Ticks() != 0 {
		t.Errorf("Expected ticks to stop at zero, got %d", b.Ticks())
	}
	if b.Sleeping() {
		t.Errorf("Expected spin state after large Dec")
	}
}

func TestResetReturnsToSpin(t *testing.T) {
	b := New(nil)
	b.Inc(DefaultSpinTicks * 3)
	if !b.Sleeping() {
		t.Fatalf("Expected sleeping state")
	}
	b.Reset()
	if b.Sleeping() || b.Ticks() != 0 {
		t.Errorf("Expected spin state after Reset")
	}
}

func TestInvalidOptionsFallBack(t *testing.T) {
	b := New(&Options{SpinTicks: -1, MinSleep: 0, MaxSleep: 0})
	b.Inc(DefaultSpinTicks)
	if got := b.SleepDuration(); got != DefaultMinSleep {
		t.Errorf("Expected default min sleep, got %v", got)
	}
	b.Inc(DefaultSpinTicks * 40)
	if got := b.SleepDuration(); got != DefaultMaxSleep {
		t.Errorf("Expected default max sleep, got %v", got)
	}
}

func BenchmarkWaitSpin(b *testing.B) {
	for i := 0; i < b.N; i++ {
		var bo Backoff
		bo.Wait()
	}
}
