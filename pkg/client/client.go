// Package client provides the HTTP implementation of the remote search
// capability with budget tracking, request pacing, retries and error
// classification.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/search-poller/pkg/logging"
	"github.com/Sternrassler/search-poller/pkg/ratelimit"
	"github.com/Sternrassler/search-poller/pkg/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Prometheus metrics for search client operations.
var (
	searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poller_search_requests_total",
		Help: "Total search requests by status",
	}, []string{"status"})

	searchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "poller_search_request_duration_seconds",
		Help:    "Search request duration in seconds, including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	searchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poller_search_errors_total",
		Help: "Total search errors by class",
	}, []string{"class"})

	circuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poller_search_circuit_state",
		Help: "Circuit breaker state of the search endpoint (0=closed, 1=half-open, 2=open)",
	})
)

// maxErrorBody caps how much of an error response is kept for the error message.
const maxErrorBody = 4 << 10

// Client is the HTTP search client. It implements search.Searcher.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	retry       *retrier
	baseURL     *url.URL
	config      Config
	logger      zerolog.Logger
}

var _ search.Searcher = (*Client)(nil)

// Config holds the client configuration.
type Config struct {
	// Redis client for shared rate limit state
	Redis *redis.Client

	// BaseURL of the search API, e.g. "https://api.example.com/1.1"
	BaseURL string

	// Token is sent as a bearer token when set
	Token string

	// User-Agent header (REQUIRED)
	UserAgent string

	// RateLimit paces requests per second (0 disables pacing)
	RateLimit float64

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration

	// Circuit breaker: opens after BreakerThreshold consecutive server or
	// network failures and probes again after BreakerTimeout.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, baseURL, userAgent string) Config {
	return Config{
		Redis:            redis,
		BaseURL:          baseURL,
		UserAgent:        userAgent,
		RateLimit:        5,
		MaxRetries:       3,
		InitialBackoff:   1 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// New creates a new search client.
func New(cfg Config) (*Client, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %v)", cfg.RateLimit)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	logger := logging.NewLogger("search-client")

	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "search",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			circuitState.Set(float64(to))
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Search circuit breaker state changed")
		},
	})

	retry := &retrier{
		policy:   cfg.backoffFor,
		classify: classOf,
		wait:     sleepCtx,
		logger:   logger,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logging.NewLogger("ratelimit")),
		limiter:     limiter,
		breaker:     breaker,
		retry:       retry,
		baseURL:     baseURL,
		config:      cfg,
		logger:      logger,
	}, nil
}

// searchResponse is the wire format of the search endpoint.
type searchResponse struct {
	Statuses []struct {
		ID        int64  `json:"id"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
		User      struct {
			ScreenName string `json:"screen_name"`
		} `json:"user"`
	} `json:"statuses"`
}

// Search fetches one page of results for criteria.
func (c *Client) Search(ctx context.Context, criteria search.Criteria) (*search.PageResult, error) {
	startTime := time.Now()
	defer func() {
		searchRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check the shared budget
	allowed, known, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		searchRequestsTotal.WithLabelValues("rate_limited").Inc()
		return nil, &APIError{
			ErrorClass: ErrorClassRateLimit,
			Message:    fmt.Sprintf("window resets in %s", known.TimeUntilReset().Round(time.Second)),
			Err:        ErrRequestBlocked,
		}
	}

	// Step 2: Pace requests
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for request slot: %w", err)
	}

	reqURL := c.searchURL(criteria)

	c.logger.Debug().
		Str("url", reqURL).
		Msg("Executing search request")

	// Step 3: Execute with retry behind the circuit breaker
	var page *search.PageResult
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.retry.do(ctx, func() error {
			p, err := c.do(ctx, reqURL, known)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		searchRequestsTotal.WithLabelValues("circuit_open").Inc()
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Message:    "search endpoint unavailable",
			Err:        ErrCircuitOpen,
		}
	}
	if err != nil {
		return nil, err
	}

	return page, nil
}

// do performs a single search request attempt.
func (c *Client) do(ctx context.Context, reqURL string, known *ratelimit.State) (*search.PageResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("Search request failed")
		searchErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		searchRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	budget := c.updateBudget(ctx, resp.Header, known)

	if resp.StatusCode >= 400 {
		errClass := classifyStatus(resp.StatusCode)
		searchErrorsTotal.WithLabelValues(string(errClass)).Inc()
		searchRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Search request error")

		msg := resp.Status
		if b := strings.TrimSpace(string(body)); b != "" {
			msg = resp.Status + ": " + b
		}
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: errClass, Message: msg}
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		searchErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "malformed search response",
			Err:        err,
		}
	}
	searchRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	items := make([]search.Item, 0, len(payload.Statuses))
	for _, s := range payload.Statuses {
		items = append(items, search.Item{
			ID:        s.ID,
			Text:      s.Text,
			User:      s.User.ScreenName,
			CreatedAt: s.CreatedAt,
		})
	}

	return &search.PageResult{Items: items, Budget: budget}, nil
}

// updateBudget records the budget reported by resp headers and returns it.
// Without budget headers the last known state is returned.
func (c *Client) updateBudget(ctx context.Context, headers http.Header, known *ratelimit.State) search.Budget {
	state, ok, err := ratelimit.ParseHeaders(headers, time.Now())
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse rate limit headers")
	}
	if !ok {
		return known.Budget()
	}
	if err := c.rateLimiter.Record(ctx, state); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record rate limit state")
	}
	return state.Budget()
}

// searchURL builds the request URL for criteria.
func (c *Client) searchURL(criteria search.Criteria) string {
	q := url.Values{}
	q.Set("q", criteria.Query)
	if criteria.Count > 0 {
		q.Set("count", strconv.Itoa(criteria.Count))
	}
	if criteria.Lang != "" {
		q.Set("lang", criteria.Lang)
	}
	if criteria.ResultType != "" {
		q.Set("result_type", criteria.ResultType)
	}
	if criteria.SinceID > 0 {
		q.Set("since_id", strconv.FormatInt(criteria.SinceID, 10))
	}
	if criteria.MaxID > 0 {
		q.Set("max_id", strconv.FormatInt(criteria.MaxID, 10))
	}

	u := *c.baseURL
	u.Path = u.Path + "/search"
	u.RawQuery = q.Encode()
	return u.String()
}

// backoffFor returns the retry policy for class with MaxRetries and
// InitialBackoff applied.
func (cfg Config) backoffFor(class ErrorClass) Backoff {
	b := BackoffFor(class)
	if cfg.MaxRetries > 0 {
		b.Attempts = cfg.MaxRetries
	}
	if cfg.InitialBackoff > 0 {
		b.Initial = cfg.InitialBackoff
		b.Max = max(b.Max, b.Initial)
	}
	return b
}

// classifyStatus categorizes an HTTP error status.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorClassAuth
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
