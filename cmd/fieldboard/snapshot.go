package main

import (
	"context"
	"fmt"

	"github.com/fieldboard/fieldboard/internal/dynamics"
	"github.com/fieldboard/fieldboard/internal/schedule"
	"github.com/fieldboard/fieldboard/internal/store"
)

// loadSnapshot fetches the full remote state, maps it, and replaces
// the local store contents. Returns the loaded counts.
func loadSnapshot(ctx context.Context, client *dynamics.Client, mapper *schedule.Mapper, st *store.Store) (int, int, error) {
	resourceRecords, err := client.FetchResources(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch resources: %w", err)
	}
	bookingRecords, err := client.FetchBookings(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch bookings: %w", err)
	}

	resources := make([]schedule.Resource, 0, len(resourceRecords))
	for _, rec := range resourceRecords {
		resources = append(resources, mapper.ResourceFromWire(ctx, rec))
	}

	bookings := make([]schedule.Booking, 0, len(bookingRecords))
	for _, rec := range bookingRecords {
		b, err := mapper.BookingFromWire(rec)
		if err != nil {
			return 0, 0, fmt.Errorf("map booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	if err := st.ReplaceSnapshot(ctx, resources, bookings); err != nil {
		return 0, 0, err
	}
	return len(resources), len(bookings), nil
}

// renderBoard writes the board file from the store's current bookings.
func renderBoard(ctx context.Context, st *store.Store, path string) error {
	bookings, err := st.ListBookings(ctx)
	if err != nil {
		return err
	}
	return store.WriteBoard(path, bookings)
}
