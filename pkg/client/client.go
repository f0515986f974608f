// Package client provides the page fetch client for the remote search API
// with error classification, retry policy and request rate limiting.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/issue-harvester/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_requests_total",
		Help: "Total search API requests by collection and status",
	}, []string{"collection", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_request_duration_seconds",
		Help:    "Search API request duration in seconds by collection",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"collection"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_errors_total",
		Help: "Total fetch errors by class",
	}, []string{"class"})
)

// MaxPageSize is the largest maxResults value the search API honours.
const MaxPageSize = 100

// PageRequest fully determines a fetch attempt.
type PageRequest struct {
	Collection string
	Filter     string
	Offset     int
	PageSize   int
}

// PageResult is one successfully decoded page.
type PageResult struct {
	Collection string            `json:"collection"`
	Offset     int               `json:"offset"`
	Items      []json.RawMessage `json:"-"`
	Total      *int              `json:"total,omitempty"`

	// Raw is the unmodified response body.
	Raw json.RawMessage `json:"-"`

	FetchedAt time.Time `json:"fetched_at"`
}

// Exhausted reports whether the page signals that no more data follows it:
// either it carries no items or it starts at or past the reported total.
func (r *PageResult) Exhausted() bool {
	if len(r.Items) == 0 {
		return true
	}
	return r.Total != nil && r.Offset >= *r.Total
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the absolute URL of the search resource.
	Endpoint string

	// FilterParam is the query parameter carrying the opaque filter string.
	FilterParam string

	// ExtraParams are static query parameters added to every request
	// (e.g. expand, fields).
	ExtraParams url.Values

	// UserAgent header (required).
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry configures the RetryPolicy.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(endpoint, userAgent string) Config {
	return Config{
		Endpoint:    endpoint,
		FilterParam: "filter",
		UserAgent:   userAgent,
		Timeout:     30 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleeper replaces the function used to wait between attempts.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithRateLimiter bounds the request rate across every caller of the client.
func WithRateLimiter(rl *ratelimit.RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client fetches single pages from the search API. It is safe for concurrent
// use by multiple collections.
type Client struct {
	httpClient *http.Client
	endpoint   *url.URL
	policy     RetryPolicy
	limiter    *ratelimit.RateLimiter
	sleep      Sleeper
	config     Config
	logger     zerolog.Logger
}

// New creates a new fetch client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint must be an absolute URL (got %q)", cfg.Endpoint)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.FilterParam == "" {
		cfg.FilterParam = "filter"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		endpoint: endpoint,
		policy:   NewRetryPolicy(cfg.Retry),
		sleep:    sleepContext,
		config:   cfg,
		logger:   log.With().Str("component", "fetch-client").Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Policy returns the retry policy applied by the client.
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// FetchPage fetches one page, retrying transient failures according to the
// retry policy. It returns either a page or a terminal error, exactly once.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*PageResult, error) {
	if req.PageSize < 1 || req.PageSize > MaxPageSize {
		return nil, fmt.Errorf("page size must be within [1, %d] (got %d)", MaxPageSize, req.PageSize)
	}
	if req.Offset < 0 {
		return nil, fmt.Errorf("offset must not be negative (got %d)", req.Offset)
	}

	logger := c.logger.With().
		Str("collection", req.Collection).
		Int("offset", req.Offset).
		Logger()

	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
		}

		page, status, class, err := c.attempt(ctx, req)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Page fetch succeeded after retry")
			}
			return page, nil
		}

		// A cancelled request surfaces as a transport error; never retry it.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctxErr)
		}

		errorsTotal.WithLabelValues(string(class)).Inc()

		decision := c.policy.Decide(attempt, class)
		if !decision.Retry {
			if shouldRetry(class) {
				retryExhaustedTotal.WithLabelValues(string(class)).Inc()
				logger.Warn().
					Str("error_class", string(class)).
					Int("attempts", attempt).
					Msg("Retry attempts exhausted")
				err = fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempt, err)
			}
			return nil, &FetchError{
				Kind:       class,
				StatusCode: status,
				Attempts:   attempt,
				Message:    http.StatusText(status),
				Err:        err,
			}
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(decision.Delay.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("status", status).
			Int("attempt", attempt).
			Dur("backoff", decision.Delay).
			Msg("Retrying page fetch after backoff")

		if err := c.sleep(ctx, decision.Delay); err != nil {
			logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return nil, err
		}
	}
}

// attempt performs a single HTTP request and classifies its outcome.
func (c *Client) attempt(ctx context.Context, req PageRequest) (*PageResult, int, ErrorClass, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(req.Collection).Observe(time.Since(startTime).Seconds())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(req), nil)
	if err != nil {
		return nil, 0, ErrorClassClient, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("collection", req.Collection).
		Int("offset", req.Offset).
		Int("page_size", req.PageSize).
		Msg("Executing page request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		requestsTotal.WithLabelValues(req.Collection, "network_error").Inc()
		return nil, 0, c.classifyError(nil, err), err
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(req.Collection, strconv.Itoa(resp.StatusCode)).Inc()

	if class := c.classifyError(resp, nil); class != "" {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, class, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, ErrorClassNetwork, fmt.Errorf("read body: %w", err)
	}

	items, total, err := decodePage(body)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("collection", req.Collection).
			Int("offset", req.Offset).
			Str("body_prefix", prefix(body, 500)).
			Msg("Malformed page response")
		return nil, resp.StatusCode, ErrorClassMalformed, err
	}

	return &PageResult{
		Collection: req.Collection,
		Offset:     req.Offset,
		Items:      items,
		Total:      total,
		Raw:        json.RawMessage(body),
		FetchedAt:  time.Now(),
	}, resp.StatusCode, "", nil
}

// classifyError categorizes a transport error or HTTP response.
// It returns "" for a successful response.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 500:
		return ErrorClassServer
	case resp.StatusCode >= 400:
		return ErrorClassClient
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		// Redirects are followed by net/http; anything left is unusable.
		return ErrorClassClient
	default:
		return ""
	}
}

// pageURL binds the request to the configured endpoint.
func (c *Client) pageURL(req PageRequest) string {
	u := *c.endpoint
	q := u.Query()
	for key, values := range c.config.ExtraParams {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	q.Set(c.config.FilterParam, req.Filter)
	q.Set("startAt", strconv.Itoa(req.Offset))
	q.Set("maxResults", strconv.Itoa(req.PageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

var (
	errEmptyBody     = errors.New("empty response body")
	errNotObject     = errors.New("response is not a JSON object")
	errMissingIssues = errors.New("response has no issues field")
)

// decodePage extracts the items and the optional total of a search page.
func decodePage(body []byte) ([]json.RawMessage, *int, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil, errEmptyBody
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errNotObject, err)
	}
	if fields == nil {
		return nil, nil, errNotObject
	}

	var total *int
	if raw, ok := fields["total"]; ok && string(raw) != "null" {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, nil, fmt.Errorf("decode total: %w", err)
		}
		total = &n
	}

	raw, ok := fields["issues"]
	if !ok {
		// Some deployments drop the array entirely for empty result sets.
		if total != nil && *total == 0 {
			return []json.RawMessage{}, total, nil
		}
		return nil, nil, errMissingIssues
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("decode issues: %w", err)
	}

	return items, total, nil
}

func prefix(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
