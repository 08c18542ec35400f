package relay

import (
	"sync"
	"time"

	"github.com/agent-racer/relaybroker/internal/clock"
)

// TimingCleanupDelay is how long a completed TimingRecord survives before
// it's swept, per the broker's 60 second retention window.
const TimingCleanupDelay = 60 * time.Second

// TimingRecord tracks the lifecycle instants of a single command.
type TimingRecord struct {
	QueuedAt       time.Time
	SentAt         *time.Time
	ReceivedAt     *time.Time
	TVProcessingMs *float64
}

// TimingReport is the derived-latency view returned once a result has been
// received from the Device.
type TimingReport struct {
	QueueWaitMs    float64  `json:"queueWaitMs"`
	RoundTripMs    float64  `json:"roundTripMs"`
	TVProcessingMs *float64 `json:"tvProcessingTimeMs,omitempty"`
	TotalMs        float64  `json:"totalMs"`
}

// TimingTracker records queued/sent/received instants per command id and
// schedules their cleanup. It never blocks the hot result-post path: cleanup
// is a per-record timer, not a path any caller waits on.
type TimingTracker struct {
	mu            sync.Mutex
	clock         clock.Clock
	cleanupDelay  time.Duration
	records       map[string]*TimingRecord
	cleanupTimers map[string]*time.Timer
}

// NewTimingTracker builds a tracker using the given clock and cleanup delay.
func NewTimingTracker(c clock.Clock, cleanupDelay time.Duration) *TimingTracker {
	return &TimingTracker{
		clock:         c,
		cleanupDelay:  cleanupDelay,
		records:       make(map[string]*TimingRecord),
		cleanupTimers: make(map[string]*time.Timer),
	}
}

// TrackQueued records queuedAt for id. Idempotent: a second call for the
// same id overwrites the first record.
func (t *TimingTracker) TrackQueued(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelCleanupLocked(id)
	t.records[id] = &TimingRecord{QueuedAt: t.clock.Now()}
}

// TrackSentToTv records sentAt and returns the queue-wait latency, or nil if
// the id was never queued (e.g. already cleaned up).
func (t *TimingTracker) TrackSentToTv(id string) *float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return nil
	}
	now := t.clock.Now()
	rec.SentAt = &now
	wait := now.Sub(rec.QueuedAt).Seconds() * 1000
	return &wait
}

// TrackReceivedFromTv records receivedAt and returns the derived timing
// report, or nil if the id has no tracked record (never queued, or already
// cleaned up). The caller is responsible for scheduling cleanup afterward.
func (t *TimingTracker) TrackReceivedFromTv(id string, tvProcessingMs *float64) *TimingReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return nil
	}
	now := t.clock.Now()
	rec.ReceivedAt = &now
	rec.TVProcessingMs = tvProcessingMs

	report := &TimingReport{
		TotalMs:        now.Sub(rec.QueuedAt).Seconds() * 1000,
		TVProcessingMs: tvProcessingMs,
	}
	if rec.SentAt != nil {
		report.QueueWaitMs = rec.SentAt.Sub(rec.QueuedAt).Seconds() * 1000
		report.RoundTripMs = now.Sub(*rec.SentAt).Seconds() * 1000
	}
	return report
}

// GetTiming returns a read-only snapshot of the record for id, or nil.
func (t *TimingTracker) GetTiming(id string) *TimingRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// GetTotalTime returns the elapsed ms since the command was queued, or nil
// if there is no tracked record.
func (t *TimingTracker) GetTotalTime(id string) *float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return nil
	}
	total := t.clock.Now().Sub(rec.QueuedAt).Seconds() * 1000
	return &total
}

// ScheduleCleanup removes the record for id once after has elapsed. Safe to
// call more than once; the prior timer is replaced. A zero or negative after
// fires the cleanup on the next scheduler tick.
func (t *TimingTracker) ScheduleCleanup(id string, after time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelCleanupLocked(id)
	t.cleanupTimers[id] = time.AfterFunc(after, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.records, id)
		delete(t.cleanupTimers, id)
	})
}

// cancelCleanupLocked stops any pending cleanup timer for id. Callers must
// hold t.mu.
func (t *TimingTracker) cancelCleanupLocked(id string) {
	if timer, ok := t.cleanupTimers[id]; ok {
		timer.Stop()
		delete(t.cleanupTimers, id)
	}
}
