package metrics

import (
	"testing"
	"time"
)

func TestMetricCounters(t *testing.T) {
	m := New()
	m.AddGet(3)
	m.AddApplied(2)
	m.AddSuccess(2)

	if m.Get() != 3 || m.Applied() != 2 || m.Success() != 2 {
		t.Fatalf("unexpected counters: get=%d applied=%d success=%d", m.Get(), m.Applied(), m.Success())
	}
}

func TestMetricTpsCountsDeltaSinceLastSample(t *testing.T) {
	m := New()
	m.AddSuccess(10)
	time.Sleep(10 * time.Millisecond)
	first := m.Tps()
	if first <= 0 {
		t.Fatalf("expected positive tps after 10 successes, got %f", first)
	}

	// No further successes since the last sample: the next call should
	// report zero, not re-count the same 10.
	time.Sleep(10 * time.Millisecond)
	second := m.Tps()
	if second != 0 {
		t.Fatalf("expected 0 tps with no new successes, got %f", second)
	}
}

func TestMetricLag(t *testing.T) {
	m := New()
	m.SetLSN(100)
	m.SetLSNCheckpoint(60)
	if m.Lag() != 40 {
		t.Fatalf("expected lag 40, got %d", m.Lag())
	}
}
