// Package searchclient posts book descriptions to the search endpoint and
// decodes its answer.
package searchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rrh2023/book-finder/models"
)

const maxResponseBytes = 4 << 20

// Client calls a single, statically configured search endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
	requests   *prometheus.CounterVec
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the overall timeout of one search call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithRegistry counts calls by outcome on registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Client) {
		requests := prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookfinder_client_requests_total",
				Help: "Search endpoint calls by outcome.",
			},
			[]string{"outcome"},
		)
		registry.MustRegister(requests)
		c.requests = requests
	}
}

// New builds a client for endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("endpoint must include a host")
	}

	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Search posts description and returns the books in the order received.
//
// Errors: *TransportError for network failures and non-2xx answers,
// *NoResultsError when the body carries a message field, and
// ErrMalformedResponse when the body cannot be interpreted.
func (c *Client) Search(ctx context.Context, description string) ([]models.Book, error) {
	books, err := c.search(ctx, description)
	c.count(err)
	return books, err
}

func (c *Client) search(ctx context.Context, description string) ([]models.Book, error) {
	payload, err := json.Marshal(models.SearchRequest{Description: description})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	return decodeBody(body)
}

// decodeBody inspects which top-level keys are present. A message key wins
// over a books key, whatever its value.
func decodeBody(body []byte) ([]models.Book, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if raw, ok := fields["message"]; ok {
		var message string
		_ = json.Unmarshal(raw, &message)
		return nil, &NoResultsError{Message: message}
	}

	raw, ok := fields["books"]
	if !ok {
		return nil, fmt.Errorf("%w: missing books field", ErrMalformedResponse)
	}
	var books []models.Book
	if err := json.Unmarshal(raw, &books); err != nil {
		return nil, fmt.Errorf("%w: books: %v", ErrMalformedResponse, err)
	}
	if books == nil {
		books = []models.Book{}
	}
	return books, nil
}

func (c *Client) count(err error) {
	if c.requests == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsTransport(err):
		outcome = "transport_error"
	case IsNoResults(err):
		outcome = "no_results"
	default:
		outcome = "malformed"
	}
	c.requests.WithLabelValues(outcome).Inc()
}
