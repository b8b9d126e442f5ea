package utils

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"panplay/internal"
	"panplay/metrics"
)

// Identity headers presented to the storage provider
const (
	DefaultUserAgent = "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 netdisk"
	PlayerUserAgent  = "netdisk"
	DefaultReferer   = "https://pan.baidu.com"
)

// maxErrorBody bounds how much of an unexpected body is drained before close
const maxErrorBody = 64 << 10

// Endpoints holds the upstream base URLs. Tests point them at httptest servers.
type Endpoints struct {
	Pan        string // directory, metadata, search and share APIs
	PCS        string // streaming API
	OAuthToken string // token refresh endpoint (full URL)
}

// DefaultEndpoints returns the production upstream locations
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Pan:        "https://pan.baidu.com",
		PCS:        "https://d.pcs.baidu.com",
		OAuthToken: "https://openapi.baidu.com/oauth/2.0/token",
	}
}

// RetryConfig defines retry behavior configuration
type RetryConfig struct {
	MaxAttempts   int // total attempts, including the first
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterPercent float64
	RetryStatuses []int
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     300 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
		RetryStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// HTTPClientConfig contains configuration for the HTTP client
type HTTPClientConfig struct {
	Timeout     time.Duration
	ProxyURL    string
	UserAgent   string
	Referer     string
	RetryConfig *RetryConfig
	Limiter     internal.RequestLimiter
	Transport   http.RoundTripper // base transport; nil builds the default one
}

// HTTPClient is the shared upstream client: fixed identity headers, bounded
// retries on transient statuses, a per-call timeout and optional throttling.
type HTTPClient struct {
	client      *http.Client
	noRedirect  *http.Client
	userAgent   string
	referer     string
	retryConfig *RetryConfig
}

// NewHTTPClient creates a new HTTP client with default configuration
func NewHTTPClient() *HTTPClient {
	return NewHTTPClientWithConfig(&HTTPClientConfig{
		Timeout:     30 * time.Second,
		RetryConfig: DefaultRetryConfig(),
	})
}

// NewHTTPClientWithConfig creates a new HTTP client with custom configuration
func NewHTTPClientWithConfig(config *HTTPClientConfig) *HTTPClient {
	if config.RetryConfig == nil {
		config.RetryConfig = DefaultRetryConfig()
	}
	if config.RetryConfig.MaxAttempts < 1 {
		config.RetryConfig.MaxAttempts = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Referer == "" {
		config.Referer = DefaultReferer
	}

	base := config.Transport
	if base == nil {
		transport := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 20 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: false,
			},
		}

		if config.ProxyURL != "" {
			if err := configureProxy(transport, config.ProxyURL); err != nil {
				internal.LogWarn("Failed to configure proxy, continuing without it: %v", err)
			}
		}
		base = transport
	}

	rt := &retryTransport{
		base:    base,
		config:  config.RetryConfig,
		limiter: config.Limiter,
	}

	client := &http.Client{
		Transport: rt,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	noRedirect := &http.Client{
		Transport: rt,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &HTTPClient{
		client:      client,
		noRedirect:  noRedirect,
		userAgent:   config.UserAgent,
		referer:     config.Referer,
		retryConfig: config.RetryConfig,
	}
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}

	return nil
}

// StdClient exposes the underlying *http.Client (retries included) for
// libraries that take one, such as the oauth2 token exchange.
func (c *HTTPClient) StdClient() *http.Client {
	return c.client
}

// Get performs a GET request, following redirects
func (c *HTTPClient) Get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil, headers)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

// GetNoRedirect performs a GET request and returns redirect responses as-is
func (c *HTTPClient) GetNoRedirect(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil, headers)
	if err != nil {
		return nil, err
	}
	return c.noRedirect.Do(req)
}

// PostForm performs a POST with an url-encoded body (which may be empty)
func (c *HTTPClient) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if len(form) > 0 {
		body = strings.NewReader(form.Encode())
	}
	req, err := c.newRequest(ctx, http.MethodPost, rawURL, body, headers)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.client.Do(req)
}

// GetJSON performs a GET and decodes a 2xx JSON body into out
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	resp, err := c.Get(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	return DecodeJSON(resp, out)
}

// PostJSON performs a form POST and decodes a 2xx JSON body into out
func (c *HTTPClient) PostJSON(ctx context.Context, rawURL string, form url.Values, headers map[string]string, out any) error {
	resp, err := c.PostForm(ctx, rawURL, form, headers)
	if err != nil {
		return err
	}
	return DecodeJSON(resp, out)
}

// DecodeJSON checks the status of resp, decodes its body into out and closes it.
// The body is never included in the returned error.
func DecodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// StatusError reports an unexpected upstream HTTP status
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "unexpected upstream status " + strconv.Itoa(e.StatusCode)
}

// DrainAndClose discards a bounded amount of the body so the connection can be reused
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

func (c *HTTPClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.referer)

	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// retryTransport retries transient failures below the http.Client so every
// caller of the shared client gets the same policy.
type retryTransport struct {
	base    http.RoundTripper
	config  *RetryConfig
	limiter internal.RequestLimiter
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path
	var lastErr error

	for attempt := 0; attempt < t.config.MaxAttempts; attempt++ {
		attemptReq := req
		if attempt > 0 {
			metrics.UpstreamRetriesTotal.WithLabelValues(endpoint).Inc()

			select {
			case <-time.After(t.calculateDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			if req.Body != nil && req.Body != http.NoBody {
				if req.GetBody == nil {
					return nil, fmt.Errorf("request body cannot be replayed: %w", lastErr)
				}
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to rewind request body: %w", err)
				}
				attemptReq = req.Clone(ctx)
				attemptReq.Body = body
			}
		}

		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		internal.GetLogger().LogHTTPRequest(attemptReq)
		start := time.Now()
		resp, err := t.base.RoundTrip(attemptReq)
		metrics.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "error").Inc()
			lastErr = err
			if ctx.Err() != nil || !isRetryableError(err) {
				return nil, err
			}
			internal.LogDebug("upstream %s attempt %d failed: %v", endpoint, attempt+1, err)
			continue
		}

		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		internal.GetLogger().LogHTTPResponse(resp)

		if !t.shouldRetryStatus(resp.StatusCode) || attempt == t.config.MaxAttempts-1 {
			return resp, nil
		}

		DrainAndClose(resp)
		lastErr = &StatusError{StatusCode: resp.StatusCode}
		internal.LogDebug("upstream %s attempt %d returned %d, retrying", endpoint, attempt+1, resp.StatusCode)
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", t.config.MaxAttempts, lastErr)
}

func (t *retryTransport) shouldRetryStatus(status int) bool {
	for _, s := range t.config.RetryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// calculateDelay returns BaseDelay * Multiplier^(attempt-1) with jitter, capped at MaxDelay
func (t *retryTransport) calculateDelay(attempt int) time.Duration {
	delay := float64(t.config.BaseDelay) * math.Pow(t.config.Multiplier, float64(attempt-1))

	jitter := delay * t.config.JitterPercent * (rand.Float64()*2 - 1)
	delay += jitter

	if t.config.MaxDelay > 0 && delay > float64(t.config.MaxDelay) {
		delay = float64(t.config.MaxDelay)
	}

	if delay < 0 {
		delay = float64(t.config.BaseDelay)
	}

	return time.Duration(delay)
}

// isRetryableError determines if a transport error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"eof",
	}

	for _, retryableErr := range retryableErrors {
		if strings.Contains(errStr, retryableErr) {
			return true
		}
	}

	return false
}
