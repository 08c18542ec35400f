package relay

import (
	"sync"
	"time"

	"github.com/agent-racer/relaybroker/internal/clock"
)

// StaleAfter is the sliding window after which a Device with no ingress is
// considered disconnected. Ten minutes per the broker's liveness contract.
const StaleAfter = 10 * time.Minute

// ConnectionInfo is the single shared view of the Device's connection state.
// There is exactly one Device per broker instance (see broker package docs).
type ConnectionInfo struct {
	Connected  bool           `json:"connected"`
	LastSeen   *time.Time     `json:"lastSeen"`
	IPAddress  string         `json:"ipAddress"`
	DeviceInfo map[string]any `json:"deviceInfo,omitempty"`
}

// LivenessTracker holds the broker's single ConnectionInfo and implements
// lazy eviction: staleness is only detected the next time someone asks,
// there is no background timer.
type LivenessTracker struct {
	mu         sync.Mutex
	clock      clock.Clock
	staleAfter time.Duration
	info       ConnectionInfo
}

// NewLivenessTracker builds a tracker using the given clock and staleness
// window. Production callers pass clock.New() and StaleAfter.
func NewLivenessTracker(c clock.Clock, staleAfter time.Duration) *LivenessTracker {
	return &LivenessTracker{clock: c, staleAfter: staleAfter}
}

// Touch records Device ingress: it marks the connection alive, bumps
// LastSeen, and records the caller's IP. deviceInfo is merged: a previously
// recorded non-nil deviceInfo is preserved unless none has been set yet.
func (l *LivenessTracker) Touch(ip string, deviceInfo map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.info.Connected = true
	l.info.LastSeen = &now
	l.info.IPAddress = ip
	if deviceInfo != nil && l.info.DeviceInfo == nil {
		l.info.DeviceInfo = deviceInfo
	}
}

// IsAlive reports whether the Device is currently considered connected. A
// call that observes staleness while Connected was still true performs the
// lazy transition to Connected=false before returning.
func (l *LivenessTracker) IsAlive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isAliveLocked()
}

func (l *LivenessTracker) isAliveLocked() bool {
	if !l.info.Connected {
		return false
	}
	if l.info.LastSeen == nil {
		return false
	}
	if l.clock.Now().Sub(*l.info.LastSeen) >= l.staleAfter {
		l.info.Connected = false
		return false
	}
	return true
}

// Status returns a snapshot of the connection info, with Connected reflecting
// the effective (post lazy-eviction) state.
func (l *LivenessTracker) Status() ConnectionInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isAliveLocked()
	return l.snapshotLocked()
}

func (l *LivenessTracker) snapshotLocked() ConnectionInfo {
	cp := l.info
	if l.info.LastSeen != nil {
		t := *l.info.LastSeen
		cp.LastSeen = &t
	}
	if l.info.DeviceInfo != nil {
		cp.DeviceInfo = make(map[string]any, len(l.info.DeviceInfo))
		for k, v := range l.info.DeviceInfo {
			cp.DeviceInfo[k] = v
		}
	}
	return cp
}
