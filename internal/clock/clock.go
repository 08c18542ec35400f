// Package clock provides the broker's timestamp and command-id source.
package clock

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Clock supplies wall-clock timestamps and unique command ids. The default
// implementation wraps time.Now; tests substitute a fixed clock so liveness
// and timing windows don't require real sleeps.
type Clock interface {
	Now() time.Time
	NewCommandID() string
}

// System is the production Clock, backed by time.Now and a process-wide
// atomic counter that tiebreaks ids assigned within the same millisecond.
type System struct {
	counter atomic.Uint64
}

// New returns a ready-to-use System clock.
func New() *System {
	return &System{}
}

func (c *System) Now() time.Time {
	return time.Now()
}

// NewCommandID returns a monotonically non-decreasing id of the form
// "<unixMillis>-<counter>". The counter guarantees uniqueness across
// concurrent callers landing in the same millisecond; it never resets.
func (c *System) NewCommandID() string {
	millis := time.Now().UnixMilli()
	n := c.counter.Add(1)
	return fmt.Sprintf("%d-%d", millis, n)
}
