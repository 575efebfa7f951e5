package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/company-registry/internal/resilience"
)

const lookupPath = "/scraper/lookup"

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithName overrides the client's display name.
func WithName(name string) Option {
	return func(c *HTTPClient) {
		c.name = name
	}
}

// WithRateLimit caps outbound lookups at rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *HTTPClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for unavailable-service failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *HTTPClient) {
		c.retry = cfg
	}
}

// WithBreaker guards the upstream with a circuit breaker. An open circuit
// is reported as an unavailable service.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *HTTPClient) {
		c.breaker = cb
	}
}

// HTTPClient implements Client against a scraper service over HTTP.
type HTTPClient struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewHTTPClient creates a client for the scraper service at addr, which may
// be a bare host:port or a full URL.
func NewHTTPClient(addr string, opts ...Option) *HTTPClient {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	c := &HTTPClient{
		name:    "scraper-service",
		baseURL: strings.TrimRight(addr, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: 200 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.ShouldRetry = func(err error) bool {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return false
		}
		return errors.Is(err, ErrUnavailable) || resilience.IsTransient(err)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("scraper lookup")
	}
	return c
}

func (c *HTTPClient) Name() string { return c.name }

// Lookup posts the request to the scraper service. A transport-level
// failure (or an open circuit) wraps ErrUnavailable; a non-2xx response
// becomes a StatusError carrying the upstream's message.
func (c *HTTPClient) Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "scraper: rate limit wait")
		}
	}
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*LookupResponse, error) {
		if c.breaker == nil {
			return c.lookupOnce(ctx, req)
		}
		resp, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*LookupResponse, error) {
			return c.lookupOnce(ctx, req)
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, eris.Wrap(ErrUnavailable, err.Error())
		}
		return resp, err
	})
}

func (c *HTTPClient) lookupOnce(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: marshal lookup request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+lookupPath, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "scraper: build lookup request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: httpResp.StatusCode}
		if err := json.Unmarshal(raw, statusErr); err != nil || statusErr.Message == "" {
			statusErr.Message = strings.TrimSpace(string(raw))
		}
		statusErr.StatusCode = httpResp.StatusCode
		if resilience.IsTransientHTTPStatus(httpResp.StatusCode) {
			// Overloaded or mid-restart upstreams deserve another try;
			// the StatusError still surfaces when retries run out.
			return nil, resilience.NewTransientError(statusErr, httpResp.StatusCode)
		}
		return nil, statusErr
	}

	var resp LookupResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, eris.Wrap(ErrParse, err.Error())
	}
	return &resp, nil
}
