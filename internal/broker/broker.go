// Package broker wires the clock, liveness tracker, timing tracker, command
// relay, function registry, and session store into a single object with
// process-wide lifetime. There is exactly one Broker per running process,
// matching the "single Device per broker instance" design note.
package broker

import (
	"time"

	"github.com/agent-racer/relaybroker/internal/clock"
	"github.com/agent-racer/relaybroker/internal/registry"
	"github.com/agent-racer/relaybroker/internal/relay"
	"github.com/agent-racer/relaybroker/internal/store"
)

// Config carries the broker's tunable knobs, resolved by internal/config
// before Broker construction.
type Config struct {
	StaleAfter         time.Duration
	TimingCleanupDelay time.Duration
	ScanDataDir        string
}

// Broker is the broker's single aggregate of shared mutable state.
type Broker struct {
	Clock    clock.Clock
	Liveness *relay.LivenessTracker
	Timing   *relay.TimingTracker
	Relay    *relay.Relay
	Registry *registry.Registry
	Sessions *store.Store
}

// New builds a Broker with the production clock and the given config.
func New(cfg Config) *Broker {
	c := clock.New()
	liveness := relay.NewLivenessTracker(c, cfg.StaleAfter)
	timing := relay.NewTimingTracker(c, cfg.TimingCleanupDelay)
	r := relay.NewRelay(liveness, timing, c)
	reg := registry.New(liveness)
	sessions := store.New(cfg.ScanDataDir, c)

	return &Broker{
		Clock:    c,
		Liveness: liveness,
		Timing:   timing,
		Relay:    r,
		Registry: reg,
		Sessions: sessions,
	}
}
