// Package registry holds the broker's latest uploaded function inventory.
// Uploads replace the prior inventory wholesale; reads project an empty
// inventory whenever the Device is not alive.
package registry

import (
	"sync"
	"time"

	"github.com/agent-racer/relaybroker/internal/relay"
)

// FunctionEntry describes a single invocable function the Device has
// reported as available.
type FunctionEntry struct {
	Name        string   `json:"name"`
	Parameters  []string `json:"parameters"`
	SourceCode  string   `json:"sourceCode,omitempty"`
	Description string   `json:"description,omitempty"`
	Available   *bool    `json:"available,omitempty"`
}

// Snapshot is the projection returned to Controllers reading the registry.
type Snapshot struct {
	Functions      []FunctionEntry      `json:"functions"`
	DeviceInfo     map[string]any       `json:"deviceInfo"`
	LastUploadedAt *time.Time           `json:"timestamp,omitempty"`
	ConnectionInfo relay.ConnectionInfo `json:"connectionInfo"`
}

// Registry holds the most recently uploaded inventory plus the device
// metadata that accompanied it.
type Registry struct {
	mu             sync.Mutex
	functions      []FunctionEntry
	deviceInfo     map[string]any
	lastUploadedAt *time.Time
	liveness       *relay.LivenessTracker
}

// New builds a Registry whose read path is gated on the given liveness
// tracker.
func New(liveness *relay.LivenessTracker) *Registry {
	return &Registry{liveness: liveness}
}

// Upload replaces the stored inventory wholesale. No merging with the
// prior upload happens — the newest upload always wins outright.
func (r *Registry) Upload(functions []FunctionEntry, deviceInfo map[string]any, uploadedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.functions = functions
	r.deviceInfo = deviceInfo
	t := uploadedAt
	r.lastUploadedAt = &t
}

// Read projects the stored inventory, gated on Device liveness: a stale or
// never-connected Device yields an empty function list and nil device info,
// while connectionInfo always reflects the effective connected flag.
func (r *Registry) Read() Snapshot {
	alive := r.liveness.IsAlive()

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		ConnectionInfo: r.liveness.Status(),
	}
	if alive {
		snap.Functions = r.functions
		snap.DeviceInfo = r.deviceInfo
		snap.LastUploadedAt = r.lastUploadedAt
	} else {
		snap.Functions = []FunctionEntry{}
	}
	return snap
}
