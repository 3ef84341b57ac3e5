// Package httpclient provides the shared outbound HTTP client used for the
// Roboflow inference and dataset APIs: per-request timeouts, an optional
// outbound rate limit, User-Agent injection and observability hooks.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gridlens/gridlens/internal/errors"
)

const (
	// DefaultTimeout is applied when the request context carries no deadline.
	DefaultTimeout = 30 * time.Second

	defaultMaxIdleConns        = 50
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second

	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 60 * time.Second
	defaultDialTimeout           = 30 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "gridlens"

	// maxErrorBody bounds how much of a failed response is kept in errors.
	maxErrorBody = 2048
)

// Client wraps http.Client with context deadlines and a rate limiter.
// Safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
	limiter        *rate.Limiter

	hookMu        sync.RWMutex
	beforeRequest func(*http.Request)
	afterResponse func(*http.Request, *http.Response, error, time.Duration)
}

// Config holds configuration for creating an HTTP client.
type Config struct {
	// DefaultTimeout is the timeout applied if request context has no deadline
	DefaultTimeout time.Duration

	// UserAgent is added to all requests
	UserAgent string

	// RequestsPerSecond limits outbound requests; 0 disables limiting
	RequestsPerSecond float64

	// Burst is the limiter burst size (default: 1)
	Burst int

	// Transport overrides the tuned default transport. Tests use it to
	// install an httpmock transport.
	Transport http.RoundTripper

	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:        DefaultTimeout,
		UserAgent:             defaultUserAgent,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}

// New creates a client. A nil cfg uses DefaultConfig; zero fields take defaults.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		override := *cfg
		if override.DefaultTimeout > 0 {
			c.DefaultTimeout = override.DefaultTimeout
		}
		if override.UserAgent != "" {
			c.UserAgent = override.UserAgent
		}
		if override.MaxIdleConns > 0 {
			c.MaxIdleConns = override.MaxIdleConns
		}
		if override.MaxIdleConnsPerHost > 0 {
			c.MaxIdleConnsPerHost = override.MaxIdleConnsPerHost
		}
		if override.IdleConnTimeout > 0 {
			c.IdleConnTimeout = override.IdleConnTimeout
		}
		if override.ResponseHeaderTimeout > 0 {
			c.ResponseHeaderTimeout = override.ResponseHeaderTimeout
		}
		c.RequestsPerSecond = override.RequestsPerSecond
		c.Burst = override.Burst
		c.Transport = override.Transport
	}

	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultDialKeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          c.MaxIdleConns,
			MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
			IdleConnTimeout:       c.IdleConnTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
			ResponseHeaderTimeout: c.ResponseHeaderTimeout,
		}
	}

	var limiter *rate.Limiter
	if c.RequestsPerSecond > 0 {
		burst := max(c.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
		limiter:        limiter,
	}
}

// HTTPClient exposes the underlying client, e.g. for httpmock.ActivateNonDefault.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// Do executes req under ctx. If ctx has no deadline the default timeout is
// applied. The response body must be closed by the caller if err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.New(err).
				Component("httpclient").
				Category(errors.CategoryCancellation).
				Context("operation", "rate_limit_wait").
				Context("host", req.URL.Host).
				Build()
		}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		// The body outlives Do, so cancel only when it is closed.
		req = req.WithContext(ctx)
		resp, err := c.execute(req)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return c.execute(req.WithContext(ctx))
}

func (c *Client) execute(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.hookMu.RLock()
	beforeHook, afterHook := c.beforeRequest, c.afterResponse
	c.hookMu.RUnlock()

	if beforeHook != nil {
		beforeHook(req)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if afterHook != nil {
		afterHook(req, resp, err, time.Since(start))
	}
	if err != nil {
		return nil, errors.NetworkError(err, redactedURL(req), c.defaultTimeout)
	}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// Post performs a POST request. Body may be nil, an io.Reader, []byte,
// string, or any other value which is marshalled to JSON.
func (c *Client) Post(ctx context.Context, url, contentType string, body any) (*http.Response, error) {
	var bodyReader io.Reader = http.NoBody
	var isJSON bool

	if body != nil {
		switch v := body.(type) {
		case io.Reader:
			bodyReader = v
		case []byte:
			bodyReader = bytes.NewReader(v)
		case string:
			bodyReader = strings.NewReader(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
			bodyReader = bytes.NewReader(data)
			isJSON = true
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create POST request: %w", err)
	}

	switch {
	case contentType != "":
		req.Header.Set("Content-Type", contentType)
	case isJSON:
		req.Header.Set("Content-Type", "application/json")
	}

	return c.Do(ctx, req)
}

// PostJSON posts body as JSON and decodes a successful response into out.
// Any status outside okStatuses (default 2xx) yields a StatusError.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any, okStatuses ...int) error {
	resp, err := c.Post(ctx, url, "application/json", body)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, out, okStatuses...)
}

// StatusError is returned for responses with an unexpected status code.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// ErrorCategory classifies upstream status failures as HTTP errors.
func (e *StatusError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryHTTP
}

// DecodeResponse closes resp.Body, checks the status and decodes JSON into
// out when out is non-nil.
func DecodeResponse(resp *http.Response, out any, okStatuses ...int) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NetworkError(err, redactedURL(resp.Request), 0)
	}

	if !statusAccepted(resp.StatusCode, okStatuses) {
		body := string(data)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &StatusError{StatusCode: resp.StatusCode, URL: redactedURL(resp.Request), Body: body}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(err).
			Component("httpclient").
			Category(errors.CategoryIntegration).
			Context("operation", "decode_response").
			Context("status", resp.StatusCode).
			Build()
	}
	return nil
}

func statusAccepted(code int, okStatuses []int) bool {
	if len(okStatuses) == 0 {
		return code >= 200 && code < 300
	}
	for _, s := range okStatuses {
		if code == s {
			return true
		}
	}
	return false
}

// redactedURL drops the query string, which carries the API key.
func redactedURL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}

// SetBeforeRequestHook sets a function called before each request.
func (c *Client) SetBeforeRequestHook(fn func(*http.Request)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.beforeRequest = fn
}

// SetAfterResponseHook sets a function called after each request with its
// duration. resp is nil when err is set.
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, error, time.Duration)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
