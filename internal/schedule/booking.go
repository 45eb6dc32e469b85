// Package schedule holds the local scheduling-board model: bookable
// resources and their time-bound bookings, plus the bidirectional
// mapping between those entities and Field Service wire records.
//
// The model treats the *work* window as authoritative: Booking.Start
// and Booking.End are when work happens, which corresponds to the
// remote "estimated arrival time" when travel buffers are modeled.
// The remote starttime/endtime fields are back-computed on write by
// subtracting the travel minutes.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldboard/fieldboard/internal/dynamics"
)

// DefaultBookingName is used when a booking arrives without a name.
const DefaultBookingName = "Untitled Booking"

// NewPlaceholderID generates a local id for a booking that has not
// been persisted to Field Service yet. Placeholder ids carry a
// reserved prefix so every layer can recognize them.
func NewPlaceholderID() string {
	return dynamics.PlaceholderPrefix + "-" + uuid.NewString()
}

// Booking is a scheduled assignment of a resource to a time window.
type Booking struct {
	// ID is the Field Service booking id once persisted, or a
	// placeholder id (see NewPlaceholderID) before that.
	ID string

	// Name is the booking title.
	Name string

	// Start and End bound the work window (travel excluded).
	Start time.Time
	End   time.Time

	// Duration is the booking length in minutes.
	Duration int

	// Travel is the travel buffer preceding Start.
	Travel Travel

	// ResourceID references the assigned bookable resource.
	ResourceID string

	// ETag is the sanitized concurrency token from the remote record,
	// empty for unpersisted bookings.
	ETag string
}

// IsPlaceholder reports whether the booking has never been persisted
// to Field Service. Such bookings must never be targeted by remote
// update or delete calls.
func (b *Booking) IsPlaceholder() bool {
	return dynamics.IsPlaceholderID(b.ID)
}

// TravelSource tags where a travel value came from. The conversion to
// a display string is provenance-sensitive: only values freshly loaded
// from the remote payload are rendered with a unit suffix; locally
// recomputed values pass the raw stored number through unmodified.
type TravelSource int

const (
	// TravelNone means no travel buffer is known for the booking.
	TravelNone TravelSource = iota

	// TravelFromRemote means the value came from the
	// msdyn_estimatedtravelduration wire field on a loaded payload.
	TravelFromRemote

	// TravelRecomputed means the value was produced locally (board
	// edit or CLI flag), not read from a remote payload.
	TravelRecomputed
)

// Travel is a tagged travel-buffer value.
type Travel struct {
	Source  TravelSource
	Minutes int
}

// TravelFromWire converts the optional wire field into a tagged value.
// A nil pointer means the field was absent from the payload.
func TravelFromWire(minutes *int) Travel {
	if minutes == nil {
		return Travel{}
	}
	return Travel{Source: TravelFromRemote, Minutes: *minutes}
}

// TravelFromMinutes tags a locally produced travel magnitude.
func TravelFromMinutes(minutes int) Travel {
	if minutes == 0 {
		return Travel{}
	}
	return Travel{Source: TravelRecomputed, Minutes: minutes}
}

// Display renders the travel value for the board. Remote-sourced
// values get a human-readable unit string; recomputed values are the
// raw number.
func (t Travel) Display() string {
	switch t.Source {
	case TravelFromRemote:
		return fmt.Sprintf("%d min", t.Minutes)
	case TravelRecomputed:
		return strconv.Itoa(t.Minutes)
	default:
		return ""
	}
}

// ParseTravel parses a board-side travel value: either a bare number
// of minutes or a magnitude with a unit suffix ("30 min", "30 minutes").
// Empty input means no travel buffer.
func ParseTravel(s string) (Travel, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Travel{}, nil
	}

	numeric := s
	if i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' }); i >= 0 {
		unit := strings.TrimSpace(s[i+1:])
		switch unit {
		case "min", "mins", "minute", "minutes", "m":
		default:
			return Travel{}, fmt.Errorf("unsupported travel unit %q", unit)
		}
		numeric = s[:i]
	}

	minutes, err := strconv.Atoi(numeric)
	if err != nil {
		return Travel{}, fmt.Errorf("invalid travel value %q: %w", s, err)
	}
	return TravelFromMinutes(minutes), nil
}
