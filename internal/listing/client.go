// Package listing fetches public game server listings from the games API.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/woozymasta/pingwatch/internal/models"
	"github.com/woozymasta/pingwatch/internal/vars"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits, the client only talks to one host
const (
	defaultMaxIdleConns    = 4
	defaultMaxConnsPerHost = 4
	defaultIdleConnTimeout = 90 * time.Second
)

var (
	// ErrRateLimited is returned when the API answers 429 Too Many Requests.
	ErrRateLimited = errors.New("listing rate limited")

	// ErrNoListing is returned when the response has no data field.
	ErrNoListing = errors.New("listing has no data field")

	// ErrEmptyListing is returned when the data field holds no servers.
	ErrEmptyListing = errors.New("listing is empty")
)

// StatusError is returned for non-success responses other than rate limiting.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("listing request failed with status %d", e.StatusCode)
}

// TransportError wraps failures that happened before a response was received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "listing request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Options configures a listing [Client].
type Options struct {
	BaseURL   string
	PlaceID   string
	SortOrder string
	Limit     int
	Timeout   time.Duration
}

// Client requests the public server listing of a single place.
type Client struct {
	httpClient *http.Client
	url        string
	timeout    time.Duration
}

// New creates a listing client for the configured place.
// The request URL is built once; timeouts are applied per request via context.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}
	if opts.PlaceID == "" {
		return nil, errors.New("place id is required")
	}

	endpoint := base.JoinPath("v1", "games", opts.PlaceID, "servers", "Public")
	query := endpoint.Query()
	if opts.SortOrder != "" {
		query.Set("sortOrder", opts.SortOrder)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint.RawQuery = query.Encode()

	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    defaultMaxIdleConns,
				MaxConnsPerHost: defaultMaxConnsPerHost,
				IdleConnTimeout: defaultIdleConnTimeout,
			},
		},
		url:     endpoint.String(),
		timeout: opts.Timeout,
	}, nil
}

// URL returns the fully built listing request URL.
func (c *Client) URL() string {
	return c.url
}

// Fetch performs a single listing request and returns the entries in the order received.
func (c *Client) Fetch(ctx context.Context) ([]models.Entry, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", vars.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var listing models.Listing
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodySize)).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	if listing.Data == nil {
		return nil, ErrNoListing
	}
	if len(*listing.Data) == 0 {
		return nil, ErrEmptyListing
	}

	return *listing.Data, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}

// ShouldCooldown reports whether a fetch error calls for waiting before the next attempt.
// Rate limiting, a missing data field and transport failures qualify; other errors abort immediately.
func ShouldCooldown(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNoListing) {
		return true
	}

	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
