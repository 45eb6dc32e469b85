// Package store provides the SQLite-backed local schedule store and
// the board-file layer on top of it.
//
// The store owns the Resource and Booking entities for the duration of
// a session. It runs in embedded mode with WAL so the reconciler, the
// board watcher, and the dashboard can read concurrently while writes
// land.
//
// Workflow:
//  1. `fieldboard pull` loads a snapshot from Field Service into the store
//  2. the board file is rendered from the store for the user to edit
//  3. board edits are diffed against the store into change events
//  4. the reconciler applies events remotely and writes results back
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fieldboard/fieldboard/internal/schedule"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found in local store")

// Store wraps the embedded SQLite connection holding the schedule
// entities for one session.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a store at the specified path. The database is created
// along with its schema if it doesn't exist.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(".fieldboard/board.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	st := &Store{conn: conn, path: path}

	// WAL for concurrent reads during reconciliation writes.
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := st.initSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// Close closes the database connection, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// initSchema creates the tables if they don't exist. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		image_url TEXT,
		etag TEXT
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_at TEXT,
		end_at TEXT,
		duration INTEGER NOT NULL DEFAULT 0,
		travel_minutes INTEGER NOT NULL DEFAULT 0,
		travel_source INTEGER NOT NULL DEFAULT 0,
		resource_id TEXT,
		etag TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_resource ON bookings(resource_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_start ON bookings(start_at);
	`

	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ReplaceSnapshot swaps the entire store contents for a freshly loaded
// remote snapshot. Used by the initial load and `fieldboard pull`.
func (s *Store) ReplaceSnapshot(ctx context.Context, resources []schedule.Resource, bookings []schedule.Booking) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM resources"); err != nil {
		return fmt.Errorf("failed to clear resources: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM bookings"); err != nil {
		return fmt.Errorf("failed to clear bookings: %w", err)
	}

	for _, r := range resources {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resources (id, name, image_url, etag) VALUES (?, ?, ?, ?)`,
			r.ID, r.Name, r.ImageURL, r.ETag,
		); err != nil {
			return fmt.Errorf("failed to insert resource %s: %w", r.ID, err)
		}
	}

	for _, b := range bookings {
		if err := upsertBookingTx(ctx, tx, b); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// UpsertResource inserts or updates a resource.
func (s *Store) UpsertResource(ctx context.Context, r schedule.Resource) error {
	query := `
	INSERT INTO resources (id, name, image_url, etag) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		image_url = excluded.image_url,
		etag = excluded.etag
	`
	if _, err := s.conn.ExecContext(ctx, query, r.ID, r.Name, r.ImageURL, r.ETag); err != nil {
		return fmt.Errorf("failed to upsert resource %s: %w", r.ID, err)
	}
	return nil
}

// ListResources returns all resources ordered by name.
func (s *Store) ListResources(ctx context.Context) ([]schedule.Resource, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, image_url, etag FROM resources ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var resources []schedule.Resource
	for rows.Next() {
		var r schedule.Resource
		var image, etag sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &image, &etag); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		r.ImageURL = image.String
		r.ETag = etag.String
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}
	return resources, nil
}

// HasResource reports whether a resource id is known locally.
func (s *Store) HasResource(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM resources WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check resource %s: %w", id, err)
	}
	return true, nil
}

// UpsertBooking inserts or updates a booking.
func (s *Store) UpsertBooking(ctx context.Context, b schedule.Booking) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertBookingTx(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking %s: %w", b.ID, err)
	}
	return nil
}

func upsertBookingTx(ctx context.Context, tx *sql.Tx, b schedule.Booking) error {
	query := `
	INSERT INTO bookings (
		id, name, start_at, end_at, duration,
		travel_minutes, travel_source, resource_id, etag
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		start_at = excluded.start_at,
		end_at = excluded.end_at,
		duration = excluded.duration,
		travel_minutes = excluded.travel_minutes,
		travel_source = excluded.travel_source,
		resource_id = excluded.resource_id,
		etag = excluded.etag
	`

	if _, err := tx.ExecContext(ctx, query,
		b.ID,
		b.Name,
		timeToString(b.Start),
		timeToString(b.End),
		b.Duration,
		b.Travel.Minutes,
		int(b.Travel.Source),
		b.ResourceID,
		b.ETag,
	); err != nil {
		return fmt.Errorf("failed to upsert booking %s: %w", b.ID, err)
	}
	return nil
}

// GetBooking retrieves a single booking by id.
// Returns ErrNotFound if the booking does not exist.
func (s *Store) GetBooking(ctx context.Context, id string) (*schedule.Booking, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, name, start_at, end_at, duration,
	       travel_minutes, travel_source, resource_id, etag
	FROM bookings WHERE id = ?`, id)

	b, err := scanBooking(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %s: %w", id, err)
	}
	return b, nil
}

// ListBookings returns all bookings ordered by start instant.
func (s *Store) ListBookings(ctx context.Context) ([]schedule.Booking, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, name, start_at, end_at, duration,
	       travel_minutes, travel_source, resource_id, etag
	FROM bookings ORDER BY start_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []schedule.Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}
	return bookings, nil
}

// DeleteBooking removes a booking. Idempotent: deleting an unknown id
// returns nil.
func (s *Store) DeleteBooking(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete booking %s: %w", id, err)
	}
	return nil
}

// ResolveBookingID rewrites a booking's identity after a successful
// remote create: the placeholder id is replaced by the real Field
// Service id and the record picks up the server-issued etag.
func (s *Store) ResolveBookingID(ctx context.Context, placeholderID, realID, etag string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE bookings SET id = ?, etag = ? WHERE id = ?`,
		realID, etag, placeholderID)
	if err != nil {
		return fmt.Errorf("failed to resolve booking id %s -> %s: %w", placeholderID, realID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve booking id %s -> %s: %w", placeholderID, realID, err)
	}
	if affected == 0 {
		return fmt.Errorf("booking %s: %w", placeholderID, ErrNotFound)
	}
	return nil
}

// Counts returns the number of resources and bookings held locally.
func (s *Store) Counts(ctx context.Context) (resources, bookings int, err error) {
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&resources); err != nil {
		return 0, 0, fmt.Errorf("failed to count resources: %w", err)
	}
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings`).Scan(&bookings); err != nil {
		return 0, 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return resources, bookings, nil
}

// scanBooking scans one booking row using the provided scan function,
// shared between QueryRow and Rows iteration.
func scanBooking(scan func(dest ...any) error) (*schedule.Booking, error) {
	var b schedule.Booking
	var startAt, endAt, resourceID, etag sql.NullString
	var travelMinutes, travelSource int

	if err := scan(
		&b.ID,
		&b.Name,
		&startAt,
		&endAt,
		&b.Duration,
		&travelMinutes,
		&travelSource,
		&resourceID,
		&etag,
	); err != nil {
		return nil, err
	}

	b.Start = stringToTime(startAt.String)
	b.End = stringToTime(endAt.String)
	b.Travel = schedule.Travel{
		Source:  schedule.TravelSource(travelSource),
		Minutes: travelMinutes,
	}
	b.ResourceID = resourceID.String
	b.ETag = etag.String
	return &b, nil
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stringToTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
