package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fieldboard/fieldboard/internal/dynamics"
)

// UnescapeETag sanitizes a wire concurrency token: backslash-escaped
// quotes become plain quotes.
func UnescapeETag(raw string) string {
	return strings.ReplaceAll(raw, `\"`, `"`)
}

// EscapeETag is the inverse of UnescapeETag, used when a token must be
// sent back on the wire (If-Match style headers, round trips).
func EscapeETag(etag string) string {
	return strings.ReplaceAll(etag, `"`, `\"`)
}

// Mapper converts between Field Service wire records and local
// schedule entities. Conversions are pure except for the lazily
// memoized default-avatar fetch inside AvatarService.
type Mapper struct {
	avatars *AvatarService
}

// NewMapper creates a mapper. avatars may be nil when image resolution
// is not needed (one-shot CLI calls, tests).
func NewMapper(avatars *AvatarService) *Mapper {
	return &Mapper{avatars: avatars}
}

// ResourceFromWire maps a bookableresources row to the local model.
// The contact's base64 entity image becomes a data URL; resources
// without one fall back to the session-wide default image.
func (m *Mapper) ResourceFromWire(ctx context.Context, rec dynamics.ResourceRecord) Resource {
	res := Resource{
		ID:   rec.ID,
		Name: rec.Name,
		ETag: UnescapeETag(rec.ETag),
	}

	if rec.Contact != nil && rec.Contact.EntityImage != "" {
		res.ImageURL = DataURL(rec.Contact.EntityImage)
	} else if m.avatars != nil {
		res.ImageURL = m.avatars.DefaultImage(ctx)
	}

	return res
}

// BookingFromWire maps a bookableresourcebookings row to the local
// model. The work window is recovered from the remote fields: work
// start is the estimated arrival when present, otherwise remote start
// shifted forward by the travel minutes; work end is remote end
// shifted the same way.
func (m *Mapper) BookingFromWire(rec dynamics.BookingRecord) (Booking, error) {
	b := Booking{
		ID:       rec.ID,
		Name:     rec.Name,
		Duration: rec.Duration,
		Travel:   TravelFromWire(rec.TravelDuration),
		ETag:     UnescapeETag(rec.ETag),
	}

	if b.Name == "" {
		b.Name = DefaultBookingName
	}
	if rec.Resource != nil {
		b.ResourceID = rec.Resource.ID
	}

	travel := time.Duration(b.Travel.Minutes) * time.Minute

	if rec.EstimatedArrival != "" {
		start, err := time.Parse(time.RFC3339, rec.EstimatedArrival)
		if err != nil {
			return Booking{}, fmt.Errorf("booking %s: parse arrival time: %w", rec.ID, err)
		}
		b.Start = start
	} else if rec.StartTime != "" {
		start, err := time.Parse(time.RFC3339, rec.StartTime)
		if err != nil {
			return Booking{}, fmt.Errorf("booking %s: parse start time: %w", rec.ID, err)
		}
		b.Start = start.Add(travel)
	}

	if rec.EndTime != "" {
		end, err := time.Parse(time.RFC3339, rec.EndTime)
		if err != nil {
			return Booking{}, fmt.Errorf("booking %s: parse end time: %w", rec.ID, err)
		}
		b.End = end.Add(travel)
	}

	return b, nil
}

// CreatePayload builds the full create body for a booking. The
// resource assignment is expressed as a relationship bind, and the
// remote start/end are back-computed from the work window through the
// travel transform.
func (m *Mapper) CreatePayload(b Booking) (map[string]any, error) {
	if b.ResourceID == "" {
		return nil, fmt.Errorf("booking %s: cannot create without an assigned resource", b.ID)
	}

	name := b.Name
	if name == "" {
		name = DefaultBookingName
	}

	payload := map[string]any{
		"name":                name,
		"Resource@odata.bind": dynamics.BindResource(b.ResourceID),
		"starttime":           remoteInstant(b.Start, b.Travel),
		"endtime":             remoteInstant(b.End, b.Travel),
	}
	if b.Duration > 0 {
		payload["duration"] = b.Duration
	}
	return payload, nil
}

// UpdatePayload builds the minimal PATCH body for the given
// changed-field set: exactly the wire mappings of the changed fields,
// nothing else. Start and end changes are translated jointly through
// the same travel transform. An empty result means nothing needs to be
// sent.
func (m *Mapper) UpdatePayload(b Booking, fields []string) map[string]any {
	payload := make(map[string]any)

	for _, field := range fields {
		switch field {
		case FieldName:
			payload["name"] = b.Name
		case FieldDuration:
			payload["duration"] = b.Duration
		case FieldResource:
			if b.ResourceID != "" {
				payload["Resource@odata.bind"] = dynamics.BindResource(b.ResourceID)
			}
		case FieldStart:
			payload["starttime"] = remoteInstant(b.Start, b.Travel)
		case FieldEnd:
			payload["endtime"] = remoteInstant(b.End, b.Travel)
		case FieldTravel:
			// Travel is derived remotely from routing; local edits
			// only affect the start/end transform.
		}
	}

	return payload
}

// remoteInstant converts a work instant into the remote representation
// by subtracting the travel buffer. Field Service re-derives the
// estimated arrival as starttime + travel, landing back on the work
// instant.
func remoteInstant(work time.Time, travel Travel) string {
	return work.Add(-time.Duration(travel.Minutes) * time.Minute).UTC().Format(time.RFC3339)
}

// BookingToWire maps a local booking back to a full wire record. Used
// for round-trip checks and for seeding test fixtures; write paths use
// CreatePayload/UpdatePayload instead.
func (m *Mapper) BookingToWire(b Booking) dynamics.BookingRecord {
	rec := dynamics.BookingRecord{
		ID:        b.ID,
		Name:      b.Name,
		StartTime: remoteInstant(b.Start, b.Travel),
		EndTime:   remoteInstant(b.End, b.Travel),
		Duration:  b.Duration,
		ETag:      EscapeETag(b.ETag),
	}
	if b.ResourceID != "" {
		rec.Resource = &dynamics.ResourceRef{ID: b.ResourceID}
	}
	if b.Travel.Source != TravelNone {
		minutes := b.Travel.Minutes
		rec.TravelDuration = &minutes
		rec.EstimatedArrival = b.Start.UTC().Format(time.RFC3339)
	}
	return rec
}
