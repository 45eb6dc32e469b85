package store

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldboard/fieldboard/internal/schedule"
)

// The board file is the editable surface of the schedule: a YAML list
// of bookings. Users (or a front-end) edit it; the watcher picks up
// the write; DiffBoard turns the delta into change events for the
// reconciler.

// boardFile is the on-disk document shape.
type boardFile struct {
	Bookings []boardBooking `yaml:"bookings"`
}

// boardBooking is one board entry. Entries without an id are new
// bookings; the differ assigns them placeholder ids.
type boardBooking struct {
	ID       string    `yaml:"id,omitempty"`
	Name     string    `yaml:"name"`
	Resource string    `yaml:"resource"`
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`
	Duration int       `yaml:"duration,omitempty"`
	Travel   string    `yaml:"travel,omitempty"`
}

// WriteBoard renders the bookings into the board file, sorted by start
// instant so repeated writes are stable.
func WriteBoard(path string, bookings []schedule.Booking) error {
	sorted := make([]schedule.Booking, len(bookings))
	copy(sorted, bookings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	doc := boardFile{Bookings: make([]boardBooking, 0, len(sorted))}
	for _, b := range sorted {
		doc.Bookings = append(doc.Bookings, boardBooking{
			ID:       b.ID,
			Name:     b.Name,
			Resource: b.ResourceID,
			Start:    b.Start.UTC(),
			End:      b.End.UTC(),
			Duration: b.Duration,
			Travel:   b.Travel.Display(),
		})
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal board: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write board file: %w", err)
	}
	return nil
}

// ReadBoard parses the board file into bookings. Entries keep whatever
// id the file carries; entries without one get an empty id, which the
// differ treats as a brand-new booking.
func ReadBoard(path string) ([]schedule.Booking, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board file: %w", err)
	}

	var doc boardFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse board file: %w", err)
	}

	bookings := make([]schedule.Booking, 0, len(doc.Bookings))
	for i, entry := range doc.Bookings {
		travel, err := schedule.ParseTravel(entry.Travel)
		if err != nil {
			return nil, fmt.Errorf("board entry %d (%s): %w", i, entry.Name, err)
		}

		bookings = append(bookings, schedule.Booking{
			ID:         entry.ID,
			Name:       entry.Name,
			Start:      entry.Start.UTC(),
			End:        entry.End.UTC(),
			Duration:   entry.Duration,
			Travel:     travel,
			ResourceID: entry.Resource,
		})
	}
	return bookings, nil
}

// DiffBoard compares board entries against the bookings currently held
// in the store and returns one change event per difference:
//
//   - entries without an id become ActionAdd with a fresh placeholder id
//   - entries whose fields differ from the stored booking become
//     ActionUpdate with the exact changed-field set
//   - stored bookings missing from the board become ActionRemove
//
// Entries with unchanged fields produce no event. Entries carrying an
// id that is not in the store are skipped (stale board rows); the
// caller is expected to rewrite the board after applying events.
func DiffBoard(current []schedule.Booking, entries []schedule.Booking) []schedule.ChangeEvent {
	byID := make(map[string]schedule.Booking, len(current))
	for _, b := range current {
		byID[b.ID] = b
	}

	var events []schedule.ChangeEvent
	seen := make(map[string]bool, len(entries))

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = schedule.NewPlaceholderID()
			events = append(events, schedule.ChangeEvent{
				Action:  schedule.ActionAdd,
				Store:   schedule.StoreBookings,
				Booking: entry,
			})
			continue
		}

		prev, ok := byID[entry.ID]
		if !ok {
			continue
		}
		seen[entry.ID] = true

		fields := changedFields(prev, entry)
		if len(fields) == 0 {
			continue
		}

		// Carry over state the board does not encode.
		entry.ETag = prev.ETag
		if entry.Travel.Minutes == prev.Travel.Minutes {
			entry.Travel = prev.Travel
		}

		events = append(events, schedule.ChangeEvent{
			Action:  schedule.ActionUpdate,
			Store:   schedule.StoreBookings,
			Booking: entry,
			Fields:  fields,
		})
	}

	for _, b := range current {
		if !seen[b.ID] {
			events = append(events, schedule.ChangeEvent{
				Action:  schedule.ActionRemove,
				Store:   schedule.StoreBookings,
				Booking: b,
			})
		}
	}

	return events
}

// changedFields computes the per-field delta between the stored
// booking and the board entry. Travel compares by magnitude, not by
// rendering, so a remote-sourced "30 min" and a board-side "30" are
// the same value.
func changedFields(prev, next schedule.Booking) []string {
	var fields []string

	if prev.Name != next.Name {
		fields = append(fields, schedule.FieldName)
	}
	if !prev.Start.Equal(next.Start) {
		fields = append(fields, schedule.FieldStart)
	}
	if !prev.End.Equal(next.End) {
		fields = append(fields, schedule.FieldEnd)
	}
	if prev.Duration != next.Duration {
		fields = append(fields, schedule.FieldDuration)
	}
	if prev.ResourceID != next.ResourceID {
		fields = append(fields, schedule.FieldResource)
	}
	if prev.Travel.Minutes != next.Travel.Minutes {
		fields = append(fields, schedule.FieldTravel)
	}

	return fields
}
