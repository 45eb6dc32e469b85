package dynamics

// Wire records for the Field Service collections. Field names follow
// the OData attribute names so encoding/json maps them directly.

// ResourceRecord is a row from the bookableresources collection.
type ResourceRecord struct {
	ID   string `json:"bookableresourceid"`
	Name string `json:"name"`

	// Contact is the expanded ContactId navigation property carrying
	// the resource's entity image.
	Contact *ContactRecord `json:"ContactId,omitempty"`

	// ETag is the OData concurrency token, raw (still escaped).
	ETag string `json:"@odata.etag,omitempty"`
}

// ContactRecord is the expanded contact behind a bookable resource.
type ContactRecord struct {
	ID string `json:"contactid"`

	// EntityImage is the base64-encoded profile image, empty when the
	// contact has none.
	EntityImage string `json:"entityimage,omitempty"`
}

// BookingRecord is a row from the bookableresourcebookings collection.
type BookingRecord struct {
	ID   string `json:"bookableresourcebookingid"`
	Name string `json:"name,omitempty"`

	// StartTime and EndTime are ISO-8601 instants as stored remotely.
	// Field Service derives EstimatedArrival = StartTime + travel.
	StartTime string `json:"starttime,omitempty"`
	EndTime   string `json:"endtime,omitempty"`

	// Duration is the booking length in minutes, Field Service's
	// native unit.
	Duration int `json:"duration,omitempty"`

	// TravelDuration is the estimated travel time in minutes. A nil
	// pointer means the field was absent from the payload, which is
	// how the mapper distinguishes an authoritative remote value from
	// a locally recomputed one.
	TravelDuration *int `json:"msdyn_estimatedtravelduration,omitempty"`

	// EstimatedArrival is the instant work is expected to begin,
	// derived remotely from StartTime plus travel.
	EstimatedArrival string `json:"msdyn_estimatedarrivaltime,omitempty"`

	// Resource is the expanded resource reference.
	Resource *ResourceRef `json:"Resource,omitempty"`

	// ETag is the OData concurrency token, raw (still escaped).
	ETag string `json:"@odata.etag,omitempty"`
}

// ResourceRef is the expanded Resource navigation property on a booking.
type ResourceRef struct {
	ID string `json:"bookableresourceid"`
}

// collection is the OData list envelope.
type collection[T any] struct {
	Value []T `json:"value"`
}
