package schedule

// Resource is a schedulable entity (e.g. a technician) sourced from
// Field Service. Resources are a read-only projection: local changes
// to them are observed but never synchronized back.
type Resource struct {
	// ID is the Field Service bookableresourceid.
	ID string

	// Name is the display name.
	Name string

	// ImageURL is a data URL for the avatar image, resolved from the
	// expanded contact image or the session-wide default. Empty when
	// neither is available.
	ImageURL string

	// ETag is the sanitized concurrency token.
	ETag string
}
