// Package reconcile turns local booking change events into Field
// Service write operations.
//
// The reconciler guarantees, per booking:
//
//   - at most one remote create, ever
//   - no update or delete is sent while the booking still has a
//     placeholder id
//   - updates carry exactly the wire-mapped changed fields
//   - operations are serialized per booking; edits arriving while an
//     operation is in flight are deferred and coalesced, then applied
//     after the in-flight operation resolves (create-then-update,
//     never update-before-create)
//
// Across distinct bookings operations run independently. No failure is
// retried: errors are reported to the tracker and returned to the
// caller, and the local record keeps its pre-failure state.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fieldboard/fieldboard/internal/dynamics"
	"github.com/fieldboard/fieldboard/internal/schedule"
)

// bookingState tracks where a booking sits in its sync lifecycle.
type bookingState int

const (
	stateUnsaved bookingState = iota
	stateCreating
	stateSynced
	stateDirty
	stateDeleting
	stateGone
)

func (s bookingState) String() string {
	switch s {
	case stateUnsaved:
		return "unsaved"
	case stateCreating:
		return "creating"
	case stateSynced:
		return "synced"
	case stateDirty:
		return "dirty"
	case stateDeleting:
		return "deleting"
	case stateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// pendingEdit is a coalesced edit waiting for an in-flight operation
// on the same booking to resolve.
type pendingEdit struct {
	booking schedule.Booking
	fields  []string
}

// entry is the per-booking sync record. Guarded by the reconciler
// mutex; busy marks an operation in flight so no second one starts.
type entry struct {
	id           string
	state        bookingState
	busy         bool
	deferred     *pendingEdit
	deferredKill bool
}

// Config wires the reconciler's collaborators.
type Config struct {
	Remote Remote
	Local  Local
	Mapper *schedule.Mapper

	// Status is optional; nil means no indicator.
	Status Tracker

	// Logger defaults to stderr.
	Logger *log.Logger
}

// Reconciler applies change events. Safe for concurrent use; see the
// package comment for the ordering guarantees.
type Reconciler struct {
	remote Remote
	local  Local
	mapper *schedule.Mapper
	status Tracker
	logger *log.Logger

	mu      sync.Mutex
	entries map[string]*entry
	aliases map[string]string // placeholder id -> resolved real id
}

// New creates a reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if cfg.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if cfg.Mapper == nil {
		return nil, fmt.Errorf("mapper is required")
	}

	status := cfg.Status
	if status == nil {
		status = nopTracker{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}

	return &Reconciler{
		remote:  cfg.Remote,
		local:   cfg.Local,
		mapper:  cfg.Mapper,
		status:  status,
		logger:  logger,
		entries: make(map[string]*entry),
		aliases: make(map[string]string),
	}, nil
}

// Apply processes one change event. Events for non-booking stores are
// observed but produce no remote call; resources are remote-authoritative.
func (r *Reconciler) Apply(ctx context.Context, ev schedule.ChangeEvent) error {
	if ev.Store != schedule.StoreBookings {
		r.logger.Printf("Ignoring %s event on %s store", ev.Action, ev.Store)
		return nil
	}

	switch ev.Action {
	case schedule.ActionAdd:
		return r.applyAdd(ctx, ev.Booking)
	case schedule.ActionUpdate:
		return r.applyUpdate(ctx, ev.Booking, ev.Fields)
	case schedule.ActionRemove:
		return r.applyRemove(ctx, ev.Booking)
	default:
		return fmt.Errorf("unknown change action %v", ev.Action)
	}
}

// applyAdd starts a create for an unsaved booking. A booking that is
// already creating or created never gets a second create.
func (r *Reconciler) applyAdd(ctx context.Context, b schedule.Booking) error {
	r.mu.Lock()
	e := r.entryLocked(b.ID, stateUnsaved)
	if e.busy || e.state != stateUnsaved {
		state := e.state
		r.mu.Unlock()
		r.logger.Printf("Skipping duplicate create for %s (state %s)", b.ID, state)
		return nil
	}
	e.state = stateCreating
	e.busy = true
	r.mu.Unlock()

	return r.settle(ctx, e, r.create(ctx, e, b))
}

// applyUpdate sends a minimal-diff update. Empty field sets are
// suppressed before any classification. Updates against a booking
// whose create is still in flight are deferred; updates against a
// booking whose create previously failed re-trigger the create with
// the superseding state.
func (r *Reconciler) applyUpdate(ctx context.Context, b schedule.Booking, fields []string) error {
	if len(fields) == 0 {
		return nil
	}

	r.mu.Lock()
	id := r.resolveLocked(b.ID)
	b.ID = id
	e := r.entryLocked(id, stateSynced)

	if e.state == stateGone {
		r.mu.Unlock()
		return nil
	}
	if e.busy {
		r.deferLocked(e, b, fields)
		r.mu.Unlock()
		return nil
	}
	if e.state == stateUnsaved {
		// Create failed earlier; this edit is the retry, carrying the
		// newest field values.
		e.state = stateCreating
		e.busy = true
		r.mu.Unlock()
		return r.settle(ctx, e, r.create(ctx, e, b))
	}

	e.state = stateDirty
	e.busy = true
	r.mu.Unlock()

	return r.settle(ctx, e, r.update(ctx, e, b, fields))
}

// applyRemove deletes a booking. Placeholder-id bookings have no
// remote identity, so they are removed locally with zero network
// calls; a booking mid-create has its delete deferred until the create
// resolves.
func (r *Reconciler) applyRemove(ctx context.Context, b schedule.Booking) error {
	r.mu.Lock()
	id := r.resolveLocked(b.ID)
	e := r.entryLocked(id, stateSynced)

	if e.state == stateGone {
		r.mu.Unlock()
		return nil
	}
	if e.busy {
		e.deferredKill = true
		e.deferred = nil
		r.mu.Unlock()
		return nil
	}
	if dynamics.IsPlaceholderID(id) {
		e.state = stateGone
		r.mu.Unlock()
		if err := r.local.DeleteBooking(ctx, id); err != nil {
			return fmt.Errorf("failed to remove unsaved booking locally: %w", err)
		}
		return nil
	}

	prior := e.state
	e.state = stateDeleting
	e.busy = true
	r.mu.Unlock()

	return r.settle(ctx, e, r.delete(ctx, e, prior))
}

// create issues the remote create and resolves the placeholder id.
func (r *Reconciler) create(ctx context.Context, e *entry, b schedule.Booking) error {
	placeholder := e.id

	payload, err := r.mapper.CreatePayload(b)
	if err != nil {
		r.failed(e, stateUnsaved, fmt.Sprintf("create failed: %v", err))
		return fmt.Errorf("create booking: %w", err)
	}

	r.status.Begin()
	defer r.status.End()

	rec, err := r.remote.CreateBooking(ctx, payload)
	if err != nil {
		r.failed(e, stateUnsaved, fmt.Sprintf("create failed: %v", err))
		return fmt.Errorf("create booking: %w", err)
	}

	etag := schedule.UnescapeETag(rec.ETag)
	if err := r.local.ResolveBookingID(ctx, placeholder, rec.ID, etag); err != nil {
		r.failed(e, stateUnsaved, fmt.Sprintf("create failed: %v", err))
		return fmt.Errorf("resolve booking id: %w", err)
	}

	r.mu.Lock()
	delete(r.entries, placeholder)
	e.id = rec.ID
	e.state = stateSynced
	r.entries[rec.ID] = e
	r.aliases[placeholder] = rec.ID
	r.mu.Unlock()

	r.logger.Printf("Created booking %s (was %s)", rec.ID, placeholder)
	return nil
}

// update issues the remote patch. A field set that maps to an empty
// wire payload (travel magnitude is local-only input, not a wire
// field) syncs locally without a remote call.
func (r *Reconciler) update(ctx context.Context, e *entry, b schedule.Booking, fields []string) error {
	payload := r.mapper.UpdatePayload(b, fields)
	if len(payload) == 0 {
		if err := r.local.UpsertBooking(ctx, b); err != nil {
			r.failed(e, stateDirty, fmt.Sprintf("update failed: %v", err))
			return fmt.Errorf("store booking %s: %w", e.id, err)
		}
		r.mu.Lock()
		e.state = stateSynced
		r.mu.Unlock()
		return nil
	}

	r.status.Begin()
	defer r.status.End()

	if err := r.remote.UpdateBooking(ctx, e.id, payload); err != nil {
		r.failed(e, stateDirty, fmt.Sprintf("update failed: %v", err))
		return fmt.Errorf("update booking %s: %w", e.id, err)
	}

	if err := r.local.UpsertBooking(ctx, b); err != nil {
		r.failed(e, stateDirty, fmt.Sprintf("update failed: %v", err))
		return fmt.Errorf("store booking %s: %w", e.id, err)
	}

	r.mu.Lock()
	e.state = stateSynced
	r.mu.Unlock()
	return nil
}

// delete issues the remote delete. On failure the booking keeps its
// prior state and stays in the local store.
func (r *Reconciler) delete(ctx context.Context, e *entry, prior bookingState) error {
	r.status.Begin()
	defer r.status.End()

	if err := r.remote.DeleteBooking(ctx, e.id); err != nil {
		r.failed(e, prior, fmt.Sprintf("delete failed: %v", err))
		return fmt.Errorf("delete booking %s: %w", e.id, err)
	}

	if err := r.local.DeleteBooking(ctx, e.id); err != nil {
		return fmt.Errorf("remove booking %s locally: %w", e.id, err)
	}

	r.mu.Lock()
	e.state = stateGone
	r.mu.Unlock()
	return nil
}

// settle finishes an operation and drains any edits deferred while it
// was in flight. Deferred work is dropped when the operation failed,
// since a failed create leaves nothing to update against.
func (r *Reconciler) settle(ctx context.Context, e *entry, opErr error) error {
	for {
		r.mu.Lock()
		if opErr != nil || e.state == stateGone || e.state == stateUnsaved ||
			(e.deferred == nil && !e.deferredKill) {
			if opErr != nil {
				e.deferred = nil
				e.deferredKill = false
			}
			e.busy = false
			r.mu.Unlock()
			return opErr
		}

		if e.deferredKill {
			e.deferredKill = false
			e.deferred = nil
			prior := e.state
			e.state = stateDeleting
			r.mu.Unlock()
			opErr = r.delete(ctx, e, prior)
			continue
		}

		edit := *e.deferred
		e.deferred = nil
		edit.booking.ID = e.id
		e.state = stateDirty
		r.mu.Unlock()

		opErr = r.update(ctx, e, edit.booking, edit.fields)
	}
}

// failed reports the error and restores the entry's pre-failure state.
func (r *Reconciler) failed(e *entry, restore bookingState, message string) {
	r.mu.Lock()
	e.state = restore
	r.mu.Unlock()
	r.status.Fail(message)
	r.logger.Printf("Error: %s", message)
}

// entryLocked returns the tracking entry for an id, creating it in the
// given initial state. Callers hold the mutex.
func (r *Reconciler) entryLocked(id string, initial bookingState) *entry {
	if e, ok := r.entries[id]; ok {
		return e
	}
	if dynamics.IsPlaceholderID(id) {
		initial = stateUnsaved
	}
	e := &entry{id: id, state: initial}
	r.entries[id] = e
	return e
}

// deferLocked coalesces an edit behind the in-flight operation: field
// sets union, newest values win. Callers hold the mutex.
func (r *Reconciler) deferLocked(e *entry, b schedule.Booking, fields []string) {
	if e.deferred == nil {
		e.deferred = &pendingEdit{booking: b, fields: fields}
		return
	}

	have := make(map[string]bool, len(e.deferred.fields))
	for _, f := range e.deferred.fields {
		have[f] = true
	}
	merged := e.deferred.fields
	for _, f := range fields {
		if !have[f] {
			merged = append(merged, f)
		}
	}
	e.deferred = &pendingEdit{booking: b, fields: merged}
}

// resolveLocked maps a possibly stale placeholder id to the real id
// assigned at creation. Callers hold the mutex.
func (r *Reconciler) resolveLocked(id string) string {
	if real, ok := r.aliases[id]; ok {
		return real
	}
	return id
}
