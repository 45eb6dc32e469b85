package dynamics

import (
	"errors"
	"fmt"
	"strings"
)

// PlaceholderPrefix marks booking ids that were generated locally and
// have never been persisted to Field Service. The scheduling board
// assigns these to new bookings before the create call resolves.
const PlaceholderPrefix = "_generated"

// IsPlaceholderID reports whether id is a locally generated placeholder
// rather than a real Field Service record id.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// Common errors returned by client operations.
//
// These errors can be checked using errors.Is() / errors.As():
//
//	if errors.Is(err, dynamics.ErrPlaceholderID) {
//	    // The caller tried to update/delete a record that was never created.
//	}
var (
	// ErrPlaceholderID is returned when update or delete is attempted
	// against a placeholder id. The call is rejected locally; no
	// network request is made.
	ErrPlaceholderID = errors.New("booking has not been created in Field Service")
)

// RemoteError is returned when Field Service answers with a non-2xx
// status. It carries the status code and, when retrievable, the
// response body text.
type RemoteError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Status is the HTTP status line, e.g. "412 Precondition Failed".
	Status string

	// Body is the response body text, empty if it could not be read.
	Body string
}

func (e *RemoteError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("field service rejected request: %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("field service rejected request: %s", e.Status)
}

// TransportError is returned when the request never produced an HTTP
// response: DNS failure, connection refused, timeout, cancellation.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("field service unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRemoteRejected returns true if the error is a non-2xx response
// from Field Service.
func IsRemoteRejected(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// IsTransport returns true if the error is a network-level failure
// where no HTTP response was received.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsContractViolation returns true if the error is a client-side
// rejection (no network call was made).
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrPlaceholderID)
}

// IsConflict returns true for an optimistic-concurrency failure,
// i.e. HTTP 412 from an etag mismatch on update.
func IsConflict(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode == 412
}
