package reconcile

import (
	"context"

	"github.com/fieldboard/fieldboard/internal/dynamics"
	"github.com/fieldboard/fieldboard/internal/schedule"
)

// Remote issues booking writes against Field Service. Satisfied by
// *dynamics.Client.
type Remote interface {
	CreateBooking(ctx context.Context, fields map[string]any) (*dynamics.BookingRecord, error)
	UpdateBooking(ctx context.Context, id string, fields map[string]any) error
	DeleteBooking(ctx context.Context, id string) error
}

// Local receives the results of successful remote operations.
// Satisfied by *store.Store.
type Local interface {
	UpsertBooking(ctx context.Context, b schedule.Booking) error
	DeleteBooking(ctx context.Context, id string) error
	ResolveBookingID(ctx context.Context, placeholderID, realID, etag string) error
}

// Tracker surfaces operation lifecycle to the sync indicator.
// Satisfied by *status.Reporter.
type Tracker interface {
	Begin()
	End()
	Fail(message string)
}

// nopTracker is used when no indicator is wired up.
type nopTracker struct{}

func (nopTracker) Begin()      {}
func (nopTracker) End()        {}
func (nopTracker) Fail(string) {}
