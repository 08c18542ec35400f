package relay

import (
	"testing"
	"time"
)

func TestTimingTrackerHappyPath(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	tt := NewTimingTracker(fc, TimingCleanupDelay)

	tt.TrackQueued("cmd-1")
	fc.advance(50 * time.Millisecond)

	wait := tt.TrackSentToTv("cmd-1")
	if wait == nil || *wait < 49 {
		t.Fatalf("expected ~50ms queue wait, got %v", wait)
	}

	fc.advance(20 * time.Millisecond)
	ms := 4.0
	report := tt.TrackReceivedFromTv("cmd-1", &ms)
	if report == nil {
		t.Fatal("expected a report")
	}
	if report.TotalMs < 69 {
		t.Fatalf("expected total >= 69ms, got %v", report.TotalMs)
	}
	if *report.TVProcessingMs != 4.0 {
		t.Fatalf("expected tvProcessingMs passthrough, got %v", report.TVProcessingMs)
	}
}

func TestTimingTrackerUnknownIDReturnsNil(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	tt := NewTimingTracker(fc, TimingCleanupDelay)

	if wait := tt.TrackSentToTv("missing"); wait != nil {
		t.Fatalf("expected nil, got %v", wait)
	}
	if report := tt.TrackReceivedFromTv("missing", nil); report != nil {
		t.Fatalf("expected nil report, got %+v", report)
	}
	if rec := tt.GetTiming("missing"); rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestTimingTrackerCleanup(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	tt := NewTimingTracker(fc, TimingCleanupDelay)

	tt.TrackQueued("cmd-1")
	tt.ScheduleCleanup("cmd-1", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if rec := tt.GetTiming("cmd-1"); rec != nil {
		t.Fatalf("expected record to be cleaned up, got %+v", rec)
	}
}

func TestTimingTrackerQueuedIdempotent(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	tt := NewTimingTracker(fc, TimingCleanupDelay)

	tt.TrackQueued("cmd-1")
	first := tt.GetTiming("cmd-1").QueuedAt

	fc.advance(time.Second)
	tt.TrackQueued("cmd-1")
	second := tt.GetTiming("cmd-1").QueuedAt

	if !second.After(first) {
		t.Fatalf("expected second TrackQueued to overwrite queuedAt: %v vs %v", first, second)
	}
}
