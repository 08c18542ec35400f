// Package relay implements the command relay: the ingress FIFO, the result
// slot map, and the liveness/timing trackers that hook it. There is exactly
// one Relay per broker instance.
package relay

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/agent-racer/relaybroker/internal/clock"
)

// CustomCodeFunction is the sentinel function name denoting arbitrary code
// execution; parameters[0] carries the source.
const CustomCodeFunction = "__CUSTOM_CODE__"

const (
	minBatchSize     = 1
	maxBatchSize     = 20
	defaultBatchSize = 10
)

// Execution modes a Command may carry.
const (
	ExecutionModeDirect = "direct"
	ExecutionModeCustom = "custom"
)

// ErrDeviceUnavailable is returned by Enqueue when the Device is not alive.
var ErrDeviceUnavailable = errors.New("DEVICE_UNAVAILABLE")

// ErrDuplicateCommandID is returned by Enqueue when the caller supplies an id
// that already has a live (queued, dispatched, or completed-but-undrained)
// record. See DESIGN.md's resolution of the spec's id-collision open question.
var ErrDuplicateCommandID = errors.New("DUPLICATE_COMMAND_ID")

// Command is a single invocation request destined for the Device.
type Command struct {
	ID            string    `json:"id"`
	Function      string    `json:"function"`
	Parameters    []any     `json:"parameters"`
	SourceCode    string    `json:"sourceCode,omitempty"`
	ExecutionMode string    `json:"executionMode"`
	QueuedAt      time.Time `json:"-"`
	Timestamp     string    `json:"timestamp"`
}

// CommandResult is the Device's outcome for a dispatched Command.
type CommandResult struct {
	CommandID      string   `json:"commandId"`
	Success        bool     `json:"success"`
	Data           any      `json:"data,omitempty"`
	Error          string   `json:"error,omitempty"`
	TVProcessingMs *float64 `json:"tvProcessingTimeMs,omitempty"`
}

// DrainOutcome wraps whatever a Controller's poll should observe.
type DrainOutcome struct {
	Waiting bool
	Result  *CommandResult
}

// Relay is the single-writer, many-reader command queue and result slot map.
// All mutation happens under one mutex; critical sections are O(1) plus one
// queue/map operation, matching the broker's no-cooperative-suspension rule.
type Relay struct {
	mu       sync.Mutex
	queue    *list.List // of *Command
	results  map[string]*CommandResult
	pending  map[string]bool // ids with a live queue/dispatch/undrained-result record
	liveness *LivenessTracker
	timing   *TimingTracker
	clock    clock.Clock
}

// NewRelay builds a Relay wired to the given liveness/timing trackers and
// clock (all three are shared with the rest of the broker).
func NewRelay(liveness *LivenessTracker, timing *TimingTracker, c clock.Clock) *Relay {
	return &Relay{
		queue:    list.New(),
		results:  make(map[string]*CommandResult),
		pending:  make(map[string]bool),
		liveness: liveness,
		timing:   timing,
		clock:    c,
	}
}

// Enqueue appends cmd to the FIFO. If id is empty the relay assigns one via
// clock.NewCommandID; a supplied id already tracked as pending is rejected
// rather than overwriting a live command. Returns the assigned id.
func (r *Relay) Enqueue(id, function string, parameters []any, sourceCode, executionMode string) (string, error) {
	if !r.liveness.IsAlive() {
		return "", ErrDeviceUnavailable
	}

	if executionMode == "" {
		executionMode = ExecutionModeDirect
	}
	if id == "" {
		id = r.clock.NewCommandID()
	}

	now := r.clock.Now()
	cmd := &Command{
		ID:            id,
		Function:      function,
		Parameters:    parameters,
		SourceCode:    sourceCode,
		ExecutionMode: executionMode,
		QueuedAt:      now,
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
	}

	r.mu.Lock()
	if r.pending[cmd.ID] {
		r.mu.Unlock()
		return "", ErrDuplicateCommandID
	}
	r.pending[cmd.ID] = true
	r.queue.PushBack(cmd)
	r.mu.Unlock()

	r.timing.TrackQueued(cmd.ID)

	return cmd.ID, nil
}

// DispatchSingle pops the FIFO head. ok is false when the queue is empty.
func (r *Relay) DispatchSingle() (*Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	front := r.queue.Front()
	if front == nil {
		return nil, false
	}
	r.queue.Remove(front)
	cmd := front.Value.(*Command)
	r.timing.TrackSentToTv(cmd.ID)
	return cmd, true
}

// DispatchBatch pops up to batchSize commands in FIFO order in one atomic
// step. batchSize is passed through ClampBatchSize first, so non-positive
// values become defaultBatchSize and larger ones are capped at 20. Returns
// the popped commands and the remaining queue depth.
func (r *Relay) DispatchBatch(batchSize int) ([]*Command, int) {
	batchSize = ClampBatchSize(batchSize)

	r.mu.Lock()
	defer r.mu.Unlock()

	commands := make([]*Command, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		front := r.queue.Front()
		if front == nil {
			break
		}
		r.queue.Remove(front)
		cmd := front.Value.(*Command)
		r.timing.TrackSentToTv(cmd.ID)
		commands = append(commands, cmd)
	}

	return commands, r.queue.Len()
}

// ClampBatchSize normalizes a requested batch size to [1,20], defaulting to
// 10 for non-positive values (the spec treats invalid/non-numeric query
// values as the default; the HTTP layer is responsible for the "non-numeric"
// half of that rule since this function only sees an already-parsed int).
func ClampBatchSize(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	if n < minBatchSize {
		return minBatchSize
	}
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}

// PostResult stores result in the slot map. This MUST happen before any
// logging or telemetry call that could yield: the drain path races this
// write and must observe it as soon as it lands. The returned report (nil
// if the id was never tracked) is for the caller's own logging/metrics —
// it is produced only after the slot write above is already visible.
func (r *Relay) PostResult(result CommandResult) *TimingReport {
	r.mu.Lock()
	r.results[result.CommandID] = &result
	r.mu.Unlock()

	report := r.timing.TrackReceivedFromTv(result.CommandID, result.TVProcessingMs)
	r.timing.ScheduleCleanup(result.CommandID, r.timing.cleanupDelay)
	return report
}

// DrainResult performs an atomic get-and-delete on the result slot for id.
// If no result is present, it reports waiting=true when the Device is
// still alive, or a TV_DISCONNECTED failure result otherwise.
func (r *Relay) DrainResult(id string) DrainOutcome {
	r.mu.Lock()
	result, ok := r.results[id]
	if ok {
		delete(r.results, id)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if ok {
		return DrainOutcome{Result: result}
	}

	if !r.liveness.IsAlive() {
		return DrainOutcome{Result: &CommandResult{
			CommandID: id,
			Success:   false,
			Error:     "TV_DISCONNECTED",
		}}
	}

	return DrainOutcome{Waiting: true}
}

// QueueDepth reports the current FIFO length (used by metrics/observability
// only; no spec invariant depends on it).
func (r *Relay) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}
