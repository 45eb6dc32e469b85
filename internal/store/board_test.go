package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fieldboard/fieldboard/internal/schedule"
)

func writeTestBoard(t *testing.T, bookings []schedule.Booking) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := WriteBoard(path, bookings); err != nil {
		t.Fatalf("failed to write board: %v", err)
	}
	return path
}

func TestBoardRoundTrip(t *testing.T) {
	want := schedule.Booking{
		ID:         "bk-1",
		Name:       "Install furnace",
		Start:      time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 3, 9, 11, 0, 0, 0, time.UTC),
		Duration:   120,
		Travel:     schedule.TravelFromMinutes(30),
		ResourceID: "res-1",
	}

	path := writeTestBoard(t, []schedule.Booking{want})

	got, err := ReadBoard(path)
	if err != nil {
		t.Fatalf("failed to read board: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(got))
	}

	b := got[0]
	if b.ID != want.ID {
		t.Errorf("ID = %q, want %q", b.ID, want.ID)
	}
	if b.Name != want.Name {
		t.Errorf("Name = %q, want %q", b.Name, want.Name)
	}
	if !b.Start.Equal(want.Start) {
		t.Errorf("Start = %v, want %v", b.Start, want.Start)
	}
	if !b.End.Equal(want.End) {
		t.Errorf("End = %v, want %v", b.End, want.End)
	}
	if b.Travel.Minutes != 30 {
		t.Errorf("Travel.Minutes = %d, want 30", b.Travel.Minutes)
	}
	if b.ResourceID != want.ResourceID {
		t.Errorf("ResourceID = %q, want %q", b.ResourceID, want.ResourceID)
	}
}

func TestWriteBoardSortsByStart(t *testing.T) {
	late := schedule.Booking{
		ID:    "bk-late",
		Name:  "Afternoon job",
		Start: time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC),
	}
	early := schedule.Booking{
		ID:    "bk-early",
		Name:  "Morning job",
		Start: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC),
	}

	path := writeTestBoard(t, []schedule.Booking{late, early})

	got, err := ReadBoard(path)
	if err != nil {
		t.Fatalf("failed to read board: %v", err)
	}
	if len(got) != 2 || got[0].ID != "bk-early" || got[1].ID != "bk-late" {
		t.Errorf("board order wrong: %+v", got)
	}
}

func TestReadBoardRejectsBadTravel(t *testing.T) {
	b := schedule.Booking{ID: "bk-1", Name: "Job"}
	path := writeTestBoard(t, []schedule.Booking{b})

	// Corrupt the travel field.
	data := "bookings:\n  - id: bk-1\n    name: Job\n    travel: soonish\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to rewrite board: %v", err)
	}

	_, err := ReadBoard(path)
	if err == nil {
		t.Fatal("expected error for unparseable travel value")
	}
	if !strings.Contains(err.Error(), "board entry 0") {
		t.Errorf("error should name the entry, got %v", err)
	}
}

func TestDiffBoardNewEntryGetsPlaceholder(t *testing.T) {
	entries := []schedule.Booking{{
		Name:       "New job",
		Start:      time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
		ResourceID: "res-1",
	}}

	events := DiffBoard(nil, entries)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Action != schedule.ActionAdd {
		t.Errorf("Action = %v, want add", ev.Action)
	}
	if !ev.Booking.IsPlaceholder() {
		t.Errorf("new booking should get a placeholder id, got %q", ev.Booking.ID)
	}
}

func TestDiffBoardUnchangedEntryProducesNoEvent(t *testing.T) {
	b := schedule.Booking{
		ID:         "bk-1",
		Name:       "Job",
		Start:      time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
		Duration:   60,
		Travel:     schedule.Travel{Source: schedule.TravelFromRemote, Minutes: 30},
		ResourceID: "res-1",
		ETag:       `W/"1"`,
	}

	// Board entries never carry etags and render travel as text, so the
	// differ must treat those differences as non-changes.
	entry := b
	entry.ETag = ""
	entry.Travel = schedule.TravelFromMinutes(30)

	events := DiffBoard([]schedule.Booking{b}, []schedule.Booking{entry})
	if len(events) != 0 {
		t.Errorf("expected no events, got %+v", events)
	}
}

func TestDiffBoardReportsExactChangedFields(t *testing.T) {
	b := schedule.Booking{
		ID:         "bk-1",
		Name:       "Job",
		Start:      time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
		ResourceID: "res-1",
		ETag:       `W/"1"`,
	}

	entry := b
	entry.ETag = ""
	entry.Name = "Renamed job"
	entry.Start = b.Start.Add(time.Hour)
	entry.End = b.End.Add(time.Hour)

	events := DiffBoard([]schedule.Booking{b}, []schedule.Booking{entry})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Action != schedule.ActionUpdate {
		t.Errorf("Action = %v, want update", ev.Action)
	}
	if len(ev.Fields) != 3 {
		t.Errorf("Fields = %v, want exactly name, start, end", ev.Fields)
	}
	for _, f := range []string{schedule.FieldName, schedule.FieldStart, schedule.FieldEnd} {
		if !ev.HasField(f) {
			t.Errorf("missing field %q in %v", f, ev.Fields)
		}
	}
	if ev.Booking.ETag != `W/"1"` {
		t.Errorf("update should carry the stored etag, got %q", ev.Booking.ETag)
	}
}

func TestDiffBoardMissingEntryBecomesRemove(t *testing.T) {
	b := schedule.Booking{ID: "bk-1", Name: "Job"}

	events := DiffBoard([]schedule.Booking{b}, nil)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Action != schedule.ActionRemove {
		t.Errorf("Action = %v, want remove", events[0].Action)
	}
	if events[0].Booking.ID != "bk-1" {
		t.Errorf("Booking.ID = %q, want bk-1", events[0].Booking.ID)
	}
}

func TestDiffBoardSkipsUnknownIDs(t *testing.T) {
	entry := schedule.Booking{ID: "vanished", Name: "Gone job"}

	events := DiffBoard(nil, []schedule.Booking{entry})
	if len(events) != 0 {
		t.Errorf("stale board rows should be skipped, got %+v", events)
	}
}
