package schedule

// Action classifies a local mutation.
type Action int

const (
	// ActionAdd means a booking was created locally.
	ActionAdd Action = iota
	// ActionUpdate means fields on an existing booking changed.
	ActionUpdate
	// ActionRemove means a booking was removed locally.
	ActionRemove
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// StoreID identifies which local store a change event came from. Only
// the bookings store is synchronized; the others are observed and
// deliberately ignored (remote-authoritative).
type StoreID string

const (
	StoreBookings     StoreID = "bookings"
	StoreResources    StoreID = "resources"
	StoreDependencies StoreID = "dependencies"
)

// Field names carried in ChangeEvent.Fields. These are local model
// field names; the mapper translates them to wire fields.
const (
	FieldName     = "name"
	FieldStart    = "start"
	FieldEnd      = "end"
	FieldDuration = "duration"
	FieldResource = "resource"
	FieldTravel   = "travel"
)

// ChangeEvent describes one mutation to the local store. Events are
// transient: they are emitted once and consumed once by the reconciler.
type ChangeEvent struct {
	// Action is the mutation kind.
	Action Action

	// Store identifies the source store.
	Store StoreID

	// Booking is a snapshot of the affected booking at event time.
	Booking Booking

	// Fields lists the names of the fields that changed. Only set for
	// ActionUpdate; an empty set means a no-op event.
	Fields []string
}

// HasField reports whether the changed-field set contains name.
func (e *ChangeEvent) HasField(name string) bool {
	for _, f := range e.Fields {
		if f == name {
			return true
		}
	}
	return false
}
