// Package dynamics provides the typed client for the Dynamics 365
// Field Service Web API (OData v4.0).
//
// The client covers exactly the collections involved in schedule
// reconciliation: bookable resources (read-only) and resource bookings
// (full CRUD). Every call acquires a bearer token from the injected
// TokenSource and pins the OData protocol headers required by the API.
//
// The client is a stateless transport: it owns no entity state and
// performs no retries. Failures surface as typed errors (see errors.go)
// and retry policy, if any, belongs to the caller.
package dynamics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
)

const (
	// apiVersion is the Web API revision the queries are written against.
	apiVersion = "v9.2"

	// odataVersion is pinned on every call via OData-Version and
	// OData-MaxVersion headers.
	odataVersion = "4.0"
)

// OData query strings for the two collections. Bookings expand the
// resource reference so the mapper can recover the assignment without
// a second round trip.
const (
	resourcesQuery = "$select=bookableresourceid,name&" +
		"$expand=ContactId($select=contactid,entityimage)"

	bookingsQuery = "$select=bookableresourcebookingid,name,starttime,endtime," +
		"duration,msdyn_estimatedtravelduration,msdyn_estimatedarrivaltime&" +
		"$expand=Resource($select=bookableresourceid)"
)

// TokenSource supplies bearer credentials for remote calls.
//
// AcquireToken may block on an interactive prompt when silent renewal
// fails; callers simply await its resolution. It returns
// auth.ErrAuthRequired when no session can be established.
type TokenSource interface {
	AcquireToken(ctx context.Context) (string, error)
}

// Client issues authenticated calls against the Field Service Web API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *log.Logger
}

// Config holds client construction parameters.
type Config struct {
	// OrgID is the Dynamics organization id; the API base URL becomes
	// https://<OrgID>.api.crm4.dynamics.com. Ignored when BaseURL is set.
	OrgID string

	// BaseURL overrides the derived organization URL. Used by tests.
	BaseURL string

	// Tokens supplies bearer credentials. Required.
	Tokens TokenSource

	// HTTPClient is the transport to use. Nil uses http.DefaultClient,
	// which also means no timeout beyond the transport default.
	HTTPClient *http.Client

	// Logger for request failures. Nil uses a default stderr logger.
	Logger *log.Logger
}

// NewClient creates a Field Service client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.OrgID == "" {
			return nil, fmt.Errorf("org id cannot be empty")
		}
		baseURL = fmt.Sprintf("https://%s.api.crm4.dynamics.com", cfg.OrgID)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dynamics] ", log.LstdFlags)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		logger:     logger,
	}, nil
}

// FetchResources retrieves all bookable resources with their expanded
// contact images.
func (c *Client) FetchResources(ctx context.Context) ([]ResourceRecord, error) {
	var out collection[ResourceRecord]
	if err := c.do(ctx, http.MethodGet, "bookableresources", resourcesQuery, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch resources: %w", err)
	}
	return out.Value, nil
}

// FetchBookings retrieves all resource bookings with their expanded
// resource references.
func (c *Client) FetchBookings(ctx context.Context) ([]BookingRecord, error) {
	var out collection[BookingRecord]
	if err := c.do(ctx, http.MethodGet, "bookableresourcebookings", bookingsQuery, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch bookings: %w", err)
	}
	return out.Value, nil
}

// CreateBooking creates a new booking and returns the created record.
//
// The payload must include a Resource@odata.bind relationship reference;
// use BindResource to build it. The request carries
// Prefer: return=representation so the response body contains the real
// record id and etag.
func (c *Client) CreateBooking(ctx context.Context, fields map[string]any) (*BookingRecord, error) {
	var created BookingRecord
	if err := c.do(ctx, http.MethodPost, "bookableresourcebookings", "", fields, &created); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	return &created, nil
}

// UpdateBooking applies a partial update (HTTP PATCH) to an existing
// booking. Only the fields present in the map are sent.
//
// Updating a placeholder id is a contract violation: the call is
// rejected with ErrPlaceholderID before any network I/O.
func (c *Client) UpdateBooking(ctx context.Context, id string, fields map[string]any) error {
	if IsPlaceholderID(id) {
		return fmt.Errorf("update booking %q: %w", id, ErrPlaceholderID)
	}

	path := fmt.Sprintf("bookableresourcebookings(%s)", id)
	if err := c.do(ctx, http.MethodPatch, path, "", fields, nil); err != nil {
		return fmt.Errorf("update booking %s: %w", id, err)
	}
	return nil
}

// DeleteBooking removes a booking from Field Service.
//
// Deleting a placeholder id is a contract violation: nothing exists
// remotely, so the call is rejected with ErrPlaceholderID before any
// network I/O.
func (c *Client) DeleteBooking(ctx context.Context, id string) error {
	if IsPlaceholderID(id) {
		return fmt.Errorf("delete booking %q: %w", id, ErrPlaceholderID)
	}

	path := fmt.Sprintf("bookableresourcebookings(%s)", id)
	if err := c.do(ctx, http.MethodDelete, path, "", nil, nil); err != nil {
		return fmt.Errorf("delete booking %s: %w", id, err)
	}
	return nil
}

// BindResource builds the relationship-bind value expressing a booking's
// resource assignment:
//
//	fields["Resource@odata.bind"] = dynamics.BindResource("R1")
//	// => "/bookableresources(R1)"
func BindResource(resourceID string) string {
	return fmt.Sprintf("/bookableresources(%s)", resourceID)
}

// do issues one authenticated request and decodes the response into out
// (when out is non-nil and the response has a body).
func (c *Client) do(ctx context.Context, method, path, query string, body, out any) error {
	token, err := c.tokens.AcquireToken(ctx)
	if err != nil {
		return err
	}

	u, err := url.Parse(fmt.Sprintf("%s/api/data/%s/%s", c.baseURL, apiVersion, path))
	if err != nil {
		return fmt.Errorf("build request url: %w", err)
	}
	u.RawQuery = query

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", odataVersion)
	req.Header.Set("OData-Version", odataVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		// Ask for the created record back so placeholder ids can be
		// resolved without a second fetch.
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Best effort: the body often carries the OData error detail.
		text, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if readErr != nil {
			text = nil
		}
		remoteErr := &RemoteError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(text)),
		}
		c.logger.Printf("%s %s failed: %v", method, path, remoteErr)
		return remoteErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
