package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/fieldboard/fieldboard/internal/dynamics"
	"github.com/fieldboard/fieldboard/internal/schedule"
)

// remoteCall records one remote operation the fake saw.
type remoteCall struct {
	op      string
	id      string
	payload map[string]any
}

// fakeRemote records calls and replays scripted results. createGate,
// when set, blocks CreateBooking until released so tests can interleave
// events with an in-flight create.
type fakeRemote struct {
	mu         sync.Mutex
	calls      []remoteCall
	createID   string
	createETag string
	updateErr  error
	deleteErr  error
	createErr  error
	createGate chan struct{}
}

func (f *fakeRemote) CreateBooking(ctx context.Context, fields map[string]any) (*dynamics.BookingRecord, error) {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{op: "create", payload: fields})
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &dynamics.BookingRecord{ID: f.createID, ETag: f.createETag}, nil
}

func (f *fakeRemote) UpdateBooking(ctx context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{op: "update", id: id, payload: fields})
	return f.updateErr
}

func (f *fakeRemote) DeleteBooking(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{op: "delete", id: id})
	return f.deleteErr
}

func (f *fakeRemote) snapshot() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remoteCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeLocal is an in-memory stand-in for the store.
type fakeLocal struct {
	mu       sync.Mutex
	bookings map[string]schedule.Booking
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{bookings: make(map[string]schedule.Booking)}
}

func (f *fakeLocal) UpsertBooking(ctx context.Context, b schedule.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[b.ID] = b
	return nil
}

func (f *fakeLocal) DeleteBooking(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bookings, id)
	return nil
}

func (f *fakeLocal) ResolveBookingID(ctx context.Context, placeholderID, realID, etag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[placeholderID]
	if !ok {
		return fmt.Errorf("booking %s not found", placeholderID)
	}
	delete(f.bookings, placeholderID)
	b.ID = realID
	b.ETag = etag
	f.bookings[realID] = b
	return nil
}

func (f *fakeLocal) get(id string) (schedule.Booking, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	return b, ok
}

// fakeTracker counts indicator transitions.
type fakeTracker struct {
	mu       sync.Mutex
	begins   int
	ends     int
	failures []string
}

func (f *fakeTracker) Begin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
}

func (f *fakeTracker) End() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
}

func (f *fakeTracker) Fail(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, message)
}

func newTestReconciler(t *testing.T, remote *fakeRemote, local *fakeLocal, tracker Tracker) *Reconciler {
	t.Helper()

	r, err := New(Config{
		Remote: remote,
		Local:  local,
		Mapper: schedule.NewMapper(nil),
		Status: tracker,
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create reconciler: %v", err)
	}
	return r
}

func addEvent(b schedule.Booking) schedule.ChangeEvent {
	return schedule.ChangeEvent{Action: schedule.ActionAdd, Store: schedule.StoreBookings, Booking: b}
}

func updateEvent(b schedule.Booking, fields ...string) schedule.ChangeEvent {
	return schedule.ChangeEvent{Action: schedule.ActionUpdate, Store: schedule.StoreBookings, Booking: b, Fields: fields}
}

func removeEvent(b schedule.Booking) schedule.ChangeEvent {
	return schedule.ChangeEvent{Action: schedule.ActionRemove, Store: schedule.StoreBookings, Booking: b}
}

func TestCreateResolvesPlaceholderID(t *testing.T) {
	remote := &fakeRemote{createID: "B1", createETag: `W/\"1\"`}
	local := newFakeLocal()
	r := newTestReconciler(t, remote, local, nil)
	ctx := context.Background()

	b := schedule.Booking{
		ID:         schedule.NewPlaceholderID(),
		Name:       "Visit",
		Start:      time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		ResourceID: "R1",
	}
	if err := local.UpsertBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	if err := r.Apply(ctx, addEvent(b)); err != nil {
		t.Fatalf("apply add: %v", err)
	}

	calls := remote.snapshot()
	if len(calls) != 1 || calls[0].op != "create" {
		t.Fatalf("calls = %+v, want one create", calls)
	}
	payload := calls[0].payload
	if payload["Resource@odata.bind"] != "/bookableresources(R1)" {
		t.Errorf("bind = %v, want /bookableresources(R1)", payload["Resource@odata.bind"])
	}
	if payload["starttime"] != "2025-01-01T09:00:00Z" {
		t.Errorf("starttime = %v", payload["starttime"])
	}
	if payload["endtime"] != "2025-01-01T10:00:00Z" {
		t.Errorf("endtime = %v", payload["endtime"])
	}

	got, ok := local.get("B1")
	if !ok {
		t.Fatal("booking not resolved to B1 locally")
	}
	if got.ETag != `W/"1"` {
		t.Errorf("etag = %q, want unescaped token", got.ETag)
	}
	if _, stale := local.get(b.ID); stale {
		t.Error("placeholder id still present after resolution")
	}
}

func TestDuplicateAddIssuesOneCreate(t *testing.T) {
	remote := &fakeRemote{createID: "B1"}
	local := newFakeLocal()
	r := newTestReconciler(t, remote, local, nil)
	ctx := context.Background()

	b := schedule.Booking{ID: schedule.NewPlaceholderID(), Name: "Visit", ResourceID: "R1"}
	if err := local.UpsertBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	if err := r.Apply(ctx, addEvent(b)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := r.Apply(ctx, addEvent(b)); err != nil {
		t.Fatalf("second add: %v", err)
	}

	if calls := remote.snapshot(); len(calls) != 1 {
		t.Errorf("got %d remote calls, want exactly one create", len(calls))
	}
}

func TestConcurrentDuplicateAddsIssueOneCreate(t *testing.T) {
	gate := make(chan struct{})
	remote := &fakeRemote{createID: "B1", createGate: gate}
	local := newFakeLocal()
	r := newTestReconciler(t, remote, local, nil)
	ctx := context.Background()

	b := schedule.Booking{ID: schedule.NewPlaceholderID(), Name: "Visit", ResourceID: "R1"}
	if err := local.UpsertBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Apply(ctx, addEvent(b)); err != nil {
				t.Errorf("add: %v", err)
			}
		}()
	}

	// Let the duplicates hit the in-flight create before it resolves.
	waitFor(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		e, ok := r.entries[b.ID]
		return ok && e.busy
	})
	close(gate)
	wg.Wait()

	creates := 0
	for _, c := range remote.snapshot() {
		if c.op == "create" {
			creates++
		}
	}
	if creates != 1 {
		t.Errorf("got %d creates, want exactly one", creates)
	}
	if _, ok := local.get("B1"); !ok {
		t.Error("booking was not resolved to its real id")
	}
}

func TestUpdateSendsMinimalDiff(t *testing.T) {
	remote := &fakeRemote{}
	local := newFakeLocal()
	r := newTestReconciler(t, remote, local, nil)
	ctx := context.Background()

	b := schedule.Booking{ID: "B1", Name: "Renamed", ResourceID: "R1"}
	if err := r.Apply(ctx, updateEvent(b, schedule.FieldName)); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	calls := remote.snapshot()
	if len(calls) != 1 || calls[0].op != "update" || calls[0].id != "B1" {
		t.Fatalf("calls = %+v, want one update of B1", calls)
	}
	if len(calls[0].payload) != 1 || calls[0].payload["name"] != "Renamed" {
		t.Errorf("payload = %v, want only name", calls[0].payload)
	}
}

func TestEmptyFieldSetProducesNoCall(t *testing.T) {
	remote := &fakeRemote{}
	r := newTestReconciler(t, remote, newFakeLocal(), nil)

	b := schedule.Booking{ID: "B1"}
	if err := r.Apply(context.Background(), updateEvent(b)); err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if calls := remote.snapshot(); len(calls) != 0 {
		t.Errorf("got %d remote calls, want zero for empty diff", len(calls))
	}
}

func TestTravelOnlyChangeSyncsLocally(t *testing.T) {
	remote := &fakeRemote{}
	local := newFakeLocal()
	r := newTestReconciler(t, remote, local, nil)

	b := schedule.Booking{ID: "B1", Travel: schedule.TravelFromMinutes(45)}
	if err := r.Apply(context.Background(), updateEvent(b, schedule.FieldTravel)); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	if calls := remote.snapshot(); len(calls) != 0 {
		t.Errorf("got %d remote calls, want zero for travel-only change", len(calls))
	}
	got, ok := local.get("B1")
	if !ok || got.Travel.Minutes != 45 {
		t.Errorf("local booking = %+v, want travel stored", got)
	}
}

func TestPlaceholderDeleteIsLocalOnly(t *testing.T) {
	remote := &fakeRemote{}
	local := newFakeLocal()
	r := newTestReconciler(t, remote, local, nil)
	ctx := context.Background()

	b := schedule.Booking{ID: "_generated_42", Name: "Never saved"}
	if err := local.UpsertBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	if err := r.Apply(ctx, removeEvent(b)); err != nil {
		t.Fatalf("apply remove: %v", err)
	}

	if calls := remote.snapshot(); len(calls) != 0 {
		t.Errorf("got %d remote calls, want zero for placeholder delete", len(calls))
	}
	if _, ok := local.get("_generated_42"); ok {
		t.Error("booking should be removed locally")
	}
}

func TestFailedDeleteKeepsRecord(t *testing.T) {
	remote := &fakeRemote{deleteErr: errors.New("503 Service Unavailable")}
	local := newFakeLocal()
	tracker := &fakeTracker{}
	r := newTestReconciler(t, remote, local, tracker)
	ctx := context.Background()

	b := schedule.Booking{ID: "B1", Name: "Keep me"}
	if err := local.UpsertBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	err := r.Apply(ctx, removeEvent(b))
	if err == nil {
		t.Fatal("expected delete failure to propagate")
	}

	if _, ok := local.get("B1"); !ok {
		t.Error("booking must not be removed locally after failed delete")
	}
	if len(tracker.failures) != 1 {
		t.Errorf("failures = %v, want one", tracker.failures)
	}
}

func TestConflictKeepsBookingDirty(t *testing.T) {
	remote := &fakeRemote{updateErr: &dynamics.RemoteError{StatusCode: 412, Status: "412 Precondition Failed"}}
	local := newFakeLocal()
	tracker := &fakeTracker{}
	r := newTestReconciler(t, remote, local, tracker)
	ctx := context.Background()

	stored := schedule.Booking{ID: "B1", Name: "Original"}
	if err := local.UpsertBooking(ctx, stored); err != nil {
		t.Fatal(err)
	}

	edited := stored
	edited.Name = "Edited"
	err := r.Apply(ctx, updateEvent(edited, schedule.FieldName))
	if err == nil {
		t.Fatal("expected conflict to propagate")
	}
	var remoteErr *dynamics.RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.StatusCode != 412 {
		t.Errorf("error = %v, want wrapped 412", err)
	}

	// No data loss: the store keeps the pre-failure state and the next
	// edit retries the call (no suppression of a still-dirty booking).
	if got, _ := local.get("B1"); got.Name != "Original" {
		t.Errorf("stored name = %q, want Original", got.Name)
	}

	remote.updateErr = nil
	if err := r.Apply(ctx, updateEvent(edited, schedule.FieldName)); err != nil {
		t.Fatalf("retry update: %v", err)
	}
	if calls := remote.snapshot(); len(calls) != 2 {
		t.Errorf("got %d remote calls, want failed update plus retry", len(calls))
	}
	if got, _ := local.get("B1"); got.Name != "Edited" {
		t.Errorf("stored name = %q, want Edited after retry", got.Name)
	}
}

func TestEditDuringCreateIsDeferred(t *testing.T) {
	gate := make(chan struct{})
	remote := &fakeRemote{createID: "B1", createGate: gate}
	local := newFakeLocal()
	r := newTestReconciler(t, remote, local, nil)
	ctx := context.Background()

	b := schedule.Booking{ID: schedule.NewPlaceholderID(), Name: "Visit", ResourceID: "R1"}
	if err := local.UpsertBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Apply(ctx, addEvent(b))
	}()

	// Wait until the create is parked on the gate, then edit twice.
	waitFor(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		e, ok := r.entries[b.ID]
		return ok && e.busy
	})

	renamed := b
	renamed.Name = "Visit (rescheduled)"
	if err := r.Apply(ctx, updateEvent(renamed, schedule.FieldName)); err != nil {
		t.Fatalf("deferred update: %v", err)
	}
	moved := renamed
	moved.Start = time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)
	if err := r.Apply(ctx, updateEvent(moved, schedule.FieldStart)); err != nil {
		t.Fatalf("deferred update: %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("apply add: %v", err)
	}

	calls := remote.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v, want create then one coalesced update", calls)
	}
	if calls[0].op != "create" || calls[1].op != "update" {
		t.Fatalf("order = %s, %s; want create then update", calls[0].op, calls[1].op)
	}
	if calls[1].id != "B1" {
		t.Errorf("update targeted %q, want resolved id B1", calls[1].id)
	}
	if len(calls[1].payload) != 2 {
		t.Errorf("payload = %v, want coalesced name+starttime", calls[1].payload)
	}
	if calls[1].payload["name"] != "Visit (rescheduled)" {
		t.Errorf("name = %v, want newest value", calls[1].payload["name"])
	}
}

func TestDeleteDuringCreateWaitsForResolution(t *testing.T) {
	gate := make(chan struct{})
	remote := &fakeRemote{createID: "B1", createGate: gate}
	local := newFakeLocal()
	r := newTestReconciler(t, remote, local, nil)
	ctx := context.Background()

	b := schedule.Booking{ID: schedule.NewPlaceholderID(), Name: "Visit", ResourceID: "R1"}
	if err := local.UpsertBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Apply(ctx, addEvent(b))
	}()
	waitFor(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		e, ok := r.entries[b.ID]
		return ok && e.busy
	})

	if err := r.Apply(ctx, removeEvent(b)); err != nil {
		t.Fatalf("deferred remove: %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("apply add: %v", err)
	}

	calls := remote.snapshot()
	if len(calls) != 2 || calls[0].op != "create" || calls[1].op != "delete" {
		t.Fatalf("calls = %+v, want create then delete", calls)
	}
	if calls[1].id != "B1" {
		t.Errorf("delete targeted %q, want resolved id B1", calls[1].id)
	}
	if _, ok := local.get("B1"); ok {
		t.Error("booking should be gone locally")
	}
}

func TestFailedCreateLeavesBookingUnsaved(t *testing.T) {
	remote := &fakeRemote{createID: "B1", createErr: errors.New("400 Bad Request")}
	local := newFakeLocal()
	tracker := &fakeTracker{}
	r := newTestReconciler(t, remote, local, tracker)
	ctx := context.Background()

	b := schedule.Booking{ID: schedule.NewPlaceholderID(), Name: "Visit", ResourceID: "R1"}
	if err := local.UpsertBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	if err := r.Apply(ctx, addEvent(b)); err == nil {
		t.Fatal("expected create failure to propagate")
	}
	if _, ok := local.get(b.ID); !ok {
		t.Error("unsaved booking must stay in the store after failed create")
	}

	// A later edit retries the create with the newest values.
	remote.mu.Lock()
	remote.createErr = nil
	remote.mu.Unlock()

	renamed := b
	renamed.Name = "Visit v2"
	if err := r.Apply(ctx, updateEvent(renamed, schedule.FieldName)); err != nil {
		t.Fatalf("retry via edit: %v", err)
	}

	calls := remote.snapshot()
	if len(calls) != 2 || calls[1].op != "create" {
		t.Fatalf("calls = %+v, want failed create then retried create", calls)
	}
	if calls[1].payload["name"] != "Visit v2" {
		t.Errorf("retry payload name = %v, want superseding value", calls[1].payload["name"])
	}
	if _, ok := local.get("B1"); !ok {
		t.Error("booking should resolve to B1 after retried create")
	}
}

func TestResourceStoreEventsProduceNoCalls(t *testing.T) {
	remote := &fakeRemote{}
	r := newTestReconciler(t, remote, newFakeLocal(), nil)

	ev := schedule.ChangeEvent{
		Action:  schedule.ActionUpdate,
		Store:   schedule.StoreResources,
		Booking: schedule.Booking{ID: "res-1"},
		Fields:  []string{schedule.FieldName},
	}
	if err := r.Apply(context.Background(), ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if calls := remote.snapshot(); len(calls) != 0 {
		t.Errorf("got %d remote calls, want zero for resource events", len(calls))
	}
}

func TestTrackerSeesLifecycle(t *testing.T) {
	remote := &fakeRemote{createID: "B1"}
	local := newFakeLocal()
	tracker := &fakeTracker{}
	r := newTestReconciler(t, remote, local, tracker)
	ctx := context.Background()

	b := schedule.Booking{ID: schedule.NewPlaceholderID(), Name: "Visit", ResourceID: "R1"}
	if err := local.UpsertBooking(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(ctx, addEvent(b)); err != nil {
		t.Fatalf("apply add: %v", err)
	}

	if tracker.begins != 1 || tracker.ends != 1 {
		t.Errorf("tracker = %d begins / %d ends, want 1/1", tracker.begins, tracker.ends)
	}
	if len(tracker.failures) != 0 {
		t.Errorf("failures = %v, want none", tracker.failures)
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
