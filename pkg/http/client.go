// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"hedged_mm/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer adds authentication to an outgoing request. body is the encoded payload, nil for GET.
type Signer interface {
	SignRequest(req *http.Request, body []byte) error
}

// SignerFunc adapts a function to Signer
type SignerFunc func(req *http.Request, body []byte) error

func (f SignerFunc) SignRequest(req *http.Request, body []byte) error { return f(req, body) }

type requestOptions struct {
	signer Signer
	header http.Header
}

// RequestOption customises a single request
type RequestOption func(*requestOptions)

// WithSigner signs this request with s
func WithSigner(s Signer) RequestOption {
	return func(o *requestOptions) { o.signer = s }
}

// WithHeader sets a header on this request
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = make(http.Header)
		}
		o.header.Set(key, value)
	}
}

// Client is a wrapper around http.Client with resilience.
// Reads are retried on transport errors, 5xx and 429. Writes are attempted
// once so an order is never submitted twice; both share one circuit breaker.
type Client struct {
	client   *http.Client
	baseURL  string
	reads    failsafe.Executor[*http.Response]
	writes   failsafe.Executor[*http.Response]
	maxRetry int

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(baseURL string, timeout time.Duration) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		ReturnLastFailure().
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10). // 5 failures out of 10
		WithDelay(10 * time.Second).
		Build()

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL:     baseURL,
		reads:       failsafe.With[*http.Response](retryPolicy, breaker),
		writes:      failsafe.With[*http.Response](breaker),
		maxRetry:    3,
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// BaseURL returns the root all paths are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, params url.Values, opts ...RequestOption) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, params, nil, opts)
}

// Post sends a POST request with a JSON body
func (c *Client) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) ([]byte, error) {
	return c.send(ctx, http.MethodPost, path, nil, body, opts)
}

// Delete sends a DELETE request with an optional JSON body
func (c *Client) Delete(ctx context.Context, path string, body interface{}, opts ...RequestOption) ([]byte, error) {
	return c.send(ctx, http.MethodDelete, path, nil, body, opts)
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, body interface{}, opts []RequestOption) ([]byte, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	build := func() (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if len(params) > 0 {
			req.URL.RawQuery = params.Encode()
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, vs := range o.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if o.signer != nil {
			if err := o.signer.SignRequest(req, payload); err != nil {
				return nil, fmt.Errorf("failed to sign request: %w", err)
			}
		}
		return req, nil
	}

	pipeline := c.writes
	if method == http.MethodGet {
		pipeline = c.reads
	}
	return c.do(ctx, method, path, build, pipeline)
}

func (c *Client) do(ctx context.Context, method, path string, build func() (*http.Request, error), pipeline failsafe.Executor[*http.Response]) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", c.baseURL+path),
		),
	)
	defer span.End()

	// Each attempt gets a fresh request so signatures and bodies are never reused
	resp, err := pipeline.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		return c.client.Do(req.WithContext(ctx))
	})

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	)
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.String("error", "pipeline_failed"),
		))
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}
