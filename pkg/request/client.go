// Package request is the HTTP client handed to action perform functions.
//
// A Client carries per-destination defaults (base URL, headers, basic auth,
// query parameters) derived from settings and auth, turns non-2xx responses
// into errors that carry the response status, and notifies hooks after every
// response so callers can collect what was sent and received.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/petal/pkg/metrics"
	"github.com/Ramsey-B/petal/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// MaxRequestSize is the maximum request body size (5MB)
	MaxRequestSize = 5 * 1024 * 1024
)

// Config holds transport configuration
type Config struct {
	Timeout            time.Duration
	MaxIdleConns       int
	IdleConnTimeout    time.Duration
	DisableCompression bool
}

// DefaultConfig returns default HTTP client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// Options are defaults applied to every request a Client makes.
type Options struct {
	BaseURL      string
	Headers      map[string]string
	SearchParams map[string]string
	Username     string
	Password     string
	Timeout      time.Duration
	// ThrowHTTPErrors defaults to true.
	ThrowHTTPErrors *bool
}

// Merge returns o overlaid with other. Maps are merged key by key.
func (o Options) Merge(other Options) Options {
	merged := o
	if other.BaseURL != "" {
		merged.BaseURL = other.BaseURL
	}
	merged.Headers = mergeStrings(o.Headers, other.Headers)
	merged.SearchParams = mergeStrings(o.SearchParams, other.SearchParams)
	if other.Username != "" || other.Password != "" {
		merged.Username = other.Username
		merged.Password = other.Password
	}
	if other.Timeout != 0 {
		merged.Timeout = other.Timeout
	}
	if other.ThrowHTTPErrors != nil {
		merged.ThrowHTTPErrors = other.ThrowHTTPErrors
	}
	return merged
}

// RequestOptions describe a single call.
type RequestOptions struct {
	Method       string
	Headers      map[string]string
	SearchParams map[string]string
	// JSON is encoded as the body with a JSON content type
	JSON any
	// Body is sent as is when JSON is nil
	Body            []byte
	Timeout         time.Duration
	ThrowHTTPErrors *bool
}

// AfterResponseHook runs after every response, including error responses.
type AfterResponseHook func(ctx context.Context, resp *Response)

// Client wraps the HTTP client with defaults, logging and instrumentation
type Client struct {
	client   *http.Client
	logger   ectologger.Logger
	defaults Options

	mu    sync.RWMutex
	hooks []AfterResponseHook
}

// NewClient creates a new request client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	transport := &http.Transport{
		Proxy:              http.ProxyFromEnvironment,
		MaxIdleConns:       cfg.MaxIdleConns,
		IdleConnTimeout:    cfg.IdleConnTimeout,
		DisableCompression: cfg.DisableCompression,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}
}

// NewClientWithHTTP builds a client on top of an existing http.Client.
func NewClientWithHTTP(httpClient *http.Client, logger ectologger.Logger) *Client {
	return &Client{client: httpClient, logger: logger}
}

// Extend returns a copy of c whose defaults are overlaid with opts. Hooks are
// shared with the parent.
func (c *Client) Extend(opts Options) *Client {
	c.mu.RLock()
	hooks := append([]AfterResponseHook{}, c.hooks...)
	c.mu.RUnlock()

	return &Client{
		client:   c.client,
		logger:   c.logger,
		defaults: c.defaults.Merge(opts),
		hooks:    hooks,
	}
}

// OnResponse registers a hook that runs after every response.
func (c *Client) OnResponse(hook AfterResponseHook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, hook)
	c.mu.Unlock()
}

func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Request(ctx, rawURL, RequestOptions{Method: http.MethodGet})
}

func (c *Client) Post(ctx context.Context, rawURL string, body any) (*Response, error) {
	return c.Request(ctx, rawURL, RequestOptions{Method: http.MethodPost, JSON: body})
}

func (c *Client) Put(ctx context.Context, rawURL string, body any) (*Response, error) {
	return c.Request(ctx, rawURL, RequestOptions{Method: http.MethodPut, JSON: body})
}

func (c *Client) Patch(ctx context.Context, rawURL string, body any) (*Response, error) {
	return c.Request(ctx, rawURL, RequestOptions{Method: http.MethodPatch, JSON: body})
}

func (c *Client) Delete(ctx context.Context, rawURL string) (*Response, error) {
	return c.Request(ctx, rawURL, RequestOptions{Method: http.MethodDelete})
}

// Request executes an HTTP request. Responses with a status of 400 or more are
// returned together with a *ResponseError unless ThrowHTTPErrors is false.
func (c *Client) Request(ctx context.Context, rawURL string, opts RequestOptions) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := tracing.StartSpan(ctx, "request.Client.Request", attribute.String("http.method", method))
	defer span.End()

	req, sent, err := c.build(ctx, method, rawURL, opts)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	timeout := c.defaults.Timeout
	if opts.Timeout != 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		metrics.RecordHTTPRequest(method, "error", time.Since(start).Seconds())
		c.logger.WithContext(ctx).WithError(err).Errorf("HTTP request failed: %s %s", method, req.URL.String())
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response body too large: %d bytes (max %d)", len(body), MaxResponseSize)
	}

	duration := time.Since(start)
	metrics.RecordHTTPRequest(method, strconv.Itoa(resp.StatusCode), duration.Seconds())
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	response := newResponse(resp, body, duration)
	response.Request = SentRequest{
		Method:  method,
		URL:     req.URL.String(),
		Headers: req.Header.Clone(),
		Body:    sent,
	}

	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", method, req.URL.String(), resp.StatusCode, duration)

	c.mu.RLock()
	hooks := c.hooks
	c.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, response)
	}

	throw := c.defaults.ThrowHTTPErrors == nil || *c.defaults.ThrowHTTPErrors
	if opts.ThrowHTTPErrors != nil {
		throw = *opts.ThrowHTTPErrors
	}
	if throw && resp.StatusCode >= http.StatusBadRequest {
		respErr := NewResponseError(response)
		tracing.RecordError(span, respErr)
		return response, respErr
	}

	return response, nil
}

func (c *Client) build(ctx context.Context, method, rawURL string, opts RequestOptions) (*http.Request, []byte, error) {
	target, err := c.resolveURL(rawURL, opts.SearchParams)
	if err != nil {
		return nil, nil, err
	}

	var body []byte
	contentType := ""
	switch {
	case opts.JSON != nil:
		body, err = json.Marshal(opts.JSON)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		contentType = "application/json"
	case opts.Body != nil:
		body = opts.Body
	}
	if len(body) > MaxRequestSize {
		return nil, nil, fmt.Errorf("request body too large: %d bytes (max %d)", len(body), MaxRequestSize)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.defaults.Username != "" || c.defaults.Password != "" {
		req.SetBasicAuth(c.defaults.Username, c.defaults.Password)
	}
	for key, value := range mergeStrings(c.defaults.Headers, opts.Headers) {
		req.Header.Set(key, value)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, body, nil
}

func (c *Client) resolveURL(rawURL string, params map[string]string) (string, error) {
	target := rawURL
	if c.defaults.BaseURL != "" && !strings.Contains(rawURL, "://") {
		target = strings.TrimSuffix(c.defaults.BaseURL, "/") + "/" + strings.TrimPrefix(rawURL, "/")
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	all := mergeStrings(c.defaults.SearchParams, params)
	if len(all) > 0 {
		query := parsed.Query()
		for key, value := range all {
			query.Set(key, value)
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func mergeStrings(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// ResponseError is returned for responses with an error status. It unwraps to
// an *httperror.HTTPError carrying the same status.
type ResponseError struct {
	Response *Response
	err      *httperror.HTTPError
}

func NewResponseError(resp *Response) *ResponseError {
	message := http.StatusText(resp.StatusCode)
	if message == "" {
		message = "HTTP " + strconv.Itoa(resp.StatusCode)
	}
	return &ResponseError{
		Response: resp,
		err: httperror.NewHTTPError(resp.StatusCode, message).
			AddMetaValue("url", resp.Request.URL).
			AddMetaValue("body", resp.Content()),
	}
}

func (e *ResponseError) Error() string {
	return e.err.Error()
}

func (e *ResponseError) Unwrap() error {
	return e.err
}

func (e *ResponseError) StatusCode() int {
	return e.Response.StatusCode
}
