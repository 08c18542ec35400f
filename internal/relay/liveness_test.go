package relay

import (
	"testing"
	"time"
)

func TestLivenessTouchAndIsAlive(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	l := NewLivenessTracker(fc, StaleAfter)

	if l.IsAlive() {
		t.Fatal("expected not alive before any touch")
	}

	l.Touch("10.0.0.5", map[string]any{"model": "x"})
	if !l.IsAlive() {
		t.Fatal("expected alive right after touch")
	}
}

func TestLivenessLazyEviction(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	l := NewLivenessTracker(fc, StaleAfter)
	l.Touch("10.0.0.5", nil)

	fc.advance(9 * time.Minute)
	if !l.IsAlive() {
		t.Fatal("expected still alive before staleness window elapses")
	}

	fc.advance(2 * time.Minute) // total 11 minutes
	if l.IsAlive() {
		t.Fatal("expected stale after 10 minutes of silence")
	}

	status := l.Status()
	if status.Connected {
		t.Fatal("expected Connected=false to be latched after lazy eviction")
	}
}

func TestLivenessDeviceInfoPreservedUnlessAbsent(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	l := NewLivenessTracker(fc, StaleAfter)

	l.Touch("10.0.0.5", map[string]any{"model": "first"})
	l.Touch("10.0.0.6", map[string]any{"model": "second"})

	status := l.Status()
	if status.DeviceInfo["model"] != "first" {
		t.Fatalf("expected first deviceInfo to be preserved, got %v", status.DeviceInfo)
	}
	if status.IPAddress != "10.0.0.6" {
		t.Fatalf("expected latest IP to be recorded, got %s", status.IPAddress)
	}
}
