package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"
	"golang.org/x/sync/singleflight"

	"github.com/diodelink/diodelink/internal/casing"
	"github.com/diodelink/diodelink/internal/identity"
	"github.com/diodelink/diodelink/internal/logging"
)

// Notifier receives user-facing notifications raised by the pipeline.
type Notifier interface {
	Notify(severity, title, message string)
}

// Request describes one API request before the interceptor chain runs.
// Query keys and JSON body keys use the UI convention; the pipeline converts
// them to the wire convention.
type Request struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header

	// JSON, when non-nil, is marshaled as the request body with keys
	// converted to the wire convention.
	JSON any

	// Body, when non-nil, builds a raw request body. It must return a fresh
	// reader on every call so the request can be retransmitted after a
	// session refresh.
	Body          func() (io.Reader, error)
	ContentType   string
	ContentLength int64

	// NoTimeout disables the per-request timeout. Used for upload parts and
	// finalize, where the gateway may legitimately take long.
	NoTimeout bool

	// Idempotent routes the request through the retrying HTTP client.
	// Upload init, part, and finalize requests must leave this false: stream
	// cipher state cannot be rewound, so they must never be transparently
	// retransmitted.
	Idempotent bool
}

// Response is a normalized gateway response. For JSON bodies the keys are
// already converted to the UI convention.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the normalized body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Options configures the pipeline client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	LoginPath     string
	DevRemoteUser string
	Notifier      Notifier
	Identity      *identity.Store
	Logger        *logging.Logger
}

// Client is the shared HTTP pipeline: every request passes through the
// ordered request interceptors, every response through the ordered response
// interceptors, on the success and error paths both.
type Client struct {
	std      *http.Client // no transparent retries; upload path
	retrying *http.Client // retryablehttp wrapper; idempotent metadata path
	baseURL  string
	timeout  time.Duration

	loginPath     string
	devRemoteUser string

	notifier Notifier
	identity *identity.Store
	log      *logging.Logger
	refresh  singleflight.Group
}

// NewClient creates the pipeline client with a transport tuned for large
// transfers: generous connection pools, no whole-client timeout (each request
// scopes its own), and HTTP/2 enabled.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is empty")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
	_ = http2.ConfigureTransport(tr)

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{Transport: tr}
	retryClient.RetryMax = 4
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 15 * time.Second
	retryClient.Logger = &retryLogger{log: opts.Logger}

	return &Client{
		std:           &http.Client{Transport: tr},
		retrying:      retryClient.StandardClient(),
		baseURL:       strings.TrimSuffix(opts.BaseURL, "/"),
		timeout:       opts.Timeout,
		loginPath:     opts.LoginPath,
		devRemoteUser: opts.DevRemoteUser,
		notifier:      opts.Notifier,
		identity:      opts.Identity,
		log:           opts.Logger,
	}, nil
}

// Identity returns the shared identity store the pipeline writes to.
func (c *Client) Identity() *identity.Store {
	return c.identity
}

// Do runs one request through the pipeline. Errors are classified and
// notified per the taxonomy but always propagate (or resolve through the
// single session-refresh retry); only the retry case replaces an error with
// a successful result.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.do(ctx, req, true)
}

func (c *Client) do(ctx context.Context, req *Request, allowAuthRetry bool) (*Response, error) {
	reqCtx := ctx
	if !req.NoTimeout && c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := c.buildRequest(reqCtx, req)
	if err != nil {
		return nil, err
	}

	client := c.std
	if req.Idempotent {
		client = c.retrying
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		// No response at all. Cancellation is re-raised silently so the
		// caller can tell "I cancelled this" from "this broke".
		if IsCancellation(err) {
			return nil, err
		}
		c.notifier.Notify("error", "Error.Network.title", err.Error())
		return nil, &NetworkError{Path: req.Path, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if IsCancellation(err) {
			return nil, err
		}
		c.notifier.Notify("error", "Error.Network.title", err.Error())
		return nil, &NetworkError{Path: req.Path, Err: err}
	}

	// Identity extraction runs on success and error responses alike.
	c.extractAuthenticatedUser(httpResp.Header)

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		normalized, err := normalizeResponseBody(httpResp.Header, body)
		if err != nil {
			return nil, err
		}
		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       normalized,
		}, nil
	}

	statusErr := &StatusError{StatusCode: httpResp.StatusCode, Path: req.Path, Body: string(body)}

	// Expired session: refresh once and retransmit the original request.
	// The retransmission never refreshes again, so a second 401 propagates
	// as a hard failure.
	if httpResp.StatusCode == http.StatusUnauthorized && allowAuthRetry &&
		!hasBasicChallenge(httpResp.Header) && req.Path != c.loginPath {
		if refreshErr := c.refreshSession(ctx); refreshErr != nil {
			c.notifier.Notify("error", "Error.401.title", refreshErr.Error())
			return nil, statusErr
		}
		return c.do(ctx, req, false)
	}

	if classifiedStatuses[httpResp.StatusCode] {
		c.notifier.Notify("error",
			fmt.Sprintf("Error.%d.title", httpResp.StatusCode),
			fmt.Sprintf("Error.%d.message", httpResp.StatusCode))
	}
	return nil, statusErr
}

// refreshSession issues the session-refresh request. Concurrent 401s
// coalesce into a single refresh call; every waiter then retransmits its own
// original request.
func (c *Client) refreshSession(ctx context.Context) error {
	_, err, _ := c.refresh.Do("session-refresh", func() (any, error) {
		_, err := c.do(ctx, &Request{Method: http.MethodGet, Path: c.loginPath}, false)
		return nil, err
	})
	return err
}

// buildRequest applies the ordered request interceptors: the development
// login header first, then key-casing normalization of query parameters and
// JSON body.
func (c *Client) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	contentType := req.ContentType

	switch {
	case req.JSON != nil:
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		wire, err := casing.JSONKeysToSnake(raw)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(wire)
		contentType = "application/json"
	case req.Body != nil:
		r, err := req.Body()
		if err != nil {
			return nil, fmt.Errorf("failed to build request body: %w", err)
		}
		body = r
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}

	if params := normalizeQueryParams(req.Query); params != nil {
		httpReq.URL.RawQuery = params.Encode()
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	injectRemoteUserHeader(httpReq, req.Path, c.loginPath, c.devRemoteUser)

	return httpReq, nil
}

// retryLogger adapts the structured logger to retryablehttp's interface.
// Only warnings and errors are forwarded.
type retryLogger struct {
	log *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	if l.log != nil {
		l.log.Error().Fields(keysAndValues).Msg(msg)
	}
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	if l.log != nil {
		l.log.Warn().Fields(keysAndValues).Msg(msg)
	}
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{})  {}
func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {}
