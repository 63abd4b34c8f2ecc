package client

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"land-collector/metrics"
	"land-collector/utils"
)

// Options configures the rate-limited request client.
type Options struct {
	BaseURL   string
	UserAgent string
	Referer   string
	Timeout   time.Duration

	// MaxConcurrent bounds in-flight requests across all callers.
	MaxConcurrent int
	// BaseDelay doubles on every consecutive 429, capped at MaxDelay.
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64
}

// Response is a successful (2xx) API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client wraps outbound API calls with a concurrency bound, 429 backoff and
// token refresh on 401.
type Client struct {
	http       *resty.Client
	tokens     *TokenManager
	slots      *utils.Semaphore
	limiter    *rate.Limiter
	backoff    *utils.Backoff
	maxRetries int
	maxDelay   time.Duration
	logger     *utils.Logger
}

func New(opts Options, tokens *TokenManager, logger *utils.Logger) *Client {
	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	if opts.UserAgent != "" {
		httpClient.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.Referer != "" {
		httpClient.SetHeader("referer", opts.Referer)
	}
	httpClient.SetHeader("accept", "application/json")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient.SetTimeout(timeout)

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.MaxConcurrent
	if burst < 1 {
		burst = 1
	}

	return &Client{
		http:       httpClient,
		tokens:     tokens,
		slots:      utils.NewSemaphore(opts.MaxConcurrent),
		limiter:    rate.NewLimiter(limit, burst),
		backoff:    &utils.Backoff{Base: opts.BaseDelay, Max: opts.MaxDelay},
		maxRetries: opts.MaxRetries,
		maxDelay:   opts.MaxDelay,
		logger:     logger,
	}
}

// Request issues GET endpoint with params. 429 responses are retried with
// backoff up to MaxRetries times; a 401 triggers one token refresh and one
// retry. Any other failure is returned as a TransportError without retry.
func (c *Client) Request(ctx context.Context, endpoint string, params map[string]string) (*Response, error) {
	rateRetries := 0
	authRetried := false

	for {
		tok, err := c.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, err
		}

		res, err := c.send(ctx, endpoint, params, tok.Value)
		if err != nil {
			return nil, &TransportError{Endpoint: endpoint, Err: err}
		}

		status := res.StatusCode()
		switch {
		case status >= 200 && status < 300:
			return &Response{StatusCode: status, Header: res.Header(), Body: res.Body()}, nil

		case status == http.StatusTooManyRequests:
			if rateRetries >= c.maxRetries {
				c.logger.Warn("[client] %s rate limited %d times, giving up", endpoint, rateRetries+1)
				return nil, &RateLimitExhausted{Endpoint: endpoint, Attempts: rateRetries + 1}
			}
			delay := c.retryDelay(rateRetries, res.Header().Get("Retry-After"))
			rateRetries++
			metrics.RateLimitRetries.Inc()
			c.logger.Debug("[client] %s rate limited (attempt %d/%d), retrying in %v",
				endpoint, rateRetries, c.maxRetries, delay)
			if err := utils.Sleep(ctx, delay); err != nil {
				return nil, &TransportError{Endpoint: endpoint, Err: err}
			}

		case status == http.StatusUnauthorized:
			if authRetried {
				return nil, &AuthError{Op: "request " + endpoint, Err: errRejectedTwice}
			}
			authRetried = true
			c.logger.Info("[client] %s rejected token, refreshing", endpoint)
			if _, err := c.tokens.RefreshRejected(ctx, tok.Value); err != nil {
				return nil, err
			}

		default:
			return nil, &TransportError{Endpoint: endpoint, Status: status}
		}
	}
}

// send holds a concurrency slot only for the duration of one HTTP exchange.
func (c *Client) send(ctx context.Context, endpoint string, params map[string]string, token string) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.slots.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.slots.Release()

	start := time.Now()
	req := c.http.R().SetContext(ctx).SetAuthToken(token)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	res, err := req.Get(endpoint)
	metrics.RequestDuration.WithLabelValues(statusClass(res, err)).Observe(time.Since(start).Seconds())
	return res, err
}

func (c *Client) retryDelay(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		if c.maxDelay > 0 && d > c.maxDelay {
			d = c.maxDelay
		}
		return d
	}
	return c.backoff.Delay(attempt)
}

func statusClass(res *resty.Response, err error) string {
	if err != nil || res == nil {
		return "error"
	}
	switch code := res.StatusCode(); {
	case code == http.StatusTooManyRequests, code == http.StatusUnauthorized:
		return strconv.Itoa(code)
	default:
		return strconv.Itoa(code/100) + "xx"
	}
}
