// Package status tracks the sync indicator shown while the reconciler
// talks to Field Service.
//
// The indicator has three states. Idle means the board matches the
// remote system. Busy means at least one remote operation is in
// flight; overlapping operations hold Busy until the last one ends.
// Error means an operation failed; the error sticks for a revert
// window and then falls back to whatever the busy counter says.
package status

import "sync"

// State is the sync indicator state.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateError
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is one observed indicator value.
type Snapshot struct {
	State   State
	Message string
}

// Listener receives indicator changes. Listeners are called
// synchronously under the reporter's lock and must not block.
type Listener func(Snapshot)

// Reporter tracks in-flight remote operations and failures. Safe for
// concurrent use.
type Reporter struct {
	mu        sync.Mutex
	busy      int
	errMsg    string
	errActive bool
	errGen    uint64
	listeners []Listener

	// schedule arms the error revert. Swappable in tests.
	schedule func(fn func())
}

// NewReporter creates a reporter whose errors revert via the given
// scheduler, typically status.RevertAfter(5 * time.Second).
func NewReporter(schedule func(fn func())) *Reporter {
	return &Reporter{schedule: schedule}
}

// Subscribe registers a listener and immediately delivers the current
// snapshot.
func (r *Reporter) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
	l(r.snapshotLocked())
}

// Begin marks a remote operation as started.
func (r *Reporter) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy++
	r.notifyLocked()
}

// End marks a remote operation as finished. The indicator returns to
// Idle only when every overlapping operation has ended.
func (r *Reporter) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy > 0 {
		r.busy--
	}
	r.notifyLocked()
}

// Fail reports a failed operation. The error shows for the revert
// window; a newer Fail restarts the window.
func (r *Reporter) Fail(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errMsg = message
	r.errActive = true
	r.errGen++
	gen := r.errGen
	r.notifyLocked()

	if r.schedule == nil {
		return
	}
	r.schedule(func() {
		r.revert(gen)
	})
}

// Current returns the present indicator value.
func (r *Reporter) Current() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// revert clears the error unless a newer failure superseded it.
func (r *Reporter) revert(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.errGen || !r.errActive {
		return
	}
	r.errActive = false
	r.errMsg = ""
	r.notifyLocked()
}

func (r *Reporter) snapshotLocked() Snapshot {
	switch {
	case r.errActive:
		return Snapshot{State: StateError, Message: r.errMsg}
	case r.busy > 0:
		return Snapshot{State: StateBusy, Message: "Updating Field Service"}
	default:
		return Snapshot{State: StateIdle}
	}
}

func (r *Reporter) notifyLocked() {
	snap := r.snapshotLocked()
	for _, l := range r.listeners {
		l(snap)
	}
}
