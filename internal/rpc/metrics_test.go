package rpc

import (
	"testing"
	"time"
)

func TestRecord_ExecutionCountInvariant(t *testing.T) {
	m := NewMetricsStore()
	m.Record("t1", 10*time.Millisecond, true, "")
	m.Record("t1", 20*time.Millisecond, false, "boom")
	m.Record("t1", 30*time.Millisecond, true, "")

	snap := m.Snapshot()["t1"]
	if snap.ExecutionCount != snap.SuccessCount+snap.ErrorCount {
		t.Fatalf("invariant violated: %+v", snap)
	}
	if snap.AverageExecutionTime != float64(snap.TotalExecutionTime)/float64(snap.ExecutionCount) {
		t.Fatalf("average mismatch: %+v", snap)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	m := NewMetricsStore()
	for i := 0; i < 5; i++ {
		m.Record("t1", time.Millisecond, true, "")
	}
	hist := m.History(3)
	if len(hist) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(hist))
	}
	for i := 0; i < len(hist)-1; i++ {
		if hist[i].EndTime < hist[i+1].EndTime {
			t.Fatalf("expected newest-first ordering at index %d", i)
		}
	}
}

func TestHistory_RingBufferWraps(t *testing.T) {
	m := NewMetricsStore()
	for i := 0; i < historyCapacity+10; i++ {
		m.Record("t1", time.Millisecond, true, "")
	}
	hist := m.History(0)
	if len(hist) != historyCapacity {
		t.Fatalf("expected ring buffer to cap at %d entries, got %d", historyCapacity, len(hist))
	}
}

func TestDeriveHealth_Thresholds(t *testing.T) {
	m := NewMetricsStore()
	for i := 0; i < 10; i++ {
		m.Record("t1", time.Millisecond, i < 4, "err")
	}
	if status := m.DeriveHealth(); status != HealthUnhealthy {
		t.Fatalf("expected unhealthy above 50%% error rate, got %s", status)
	}
}

func TestDeriveHealth_HealthyWithNoCalls(t *testing.T) {
	m := NewMetricsStore()
	if status := m.DeriveHealth(); status != HealthHealthy {
		t.Fatalf("expected healthy with zero calls, got %s", status)
	}
}
