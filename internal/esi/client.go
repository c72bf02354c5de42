// Package esi is a client for the EVE Swagger Interface endpoints the sync engine uses:
// server status, character contacts, contact labels and name resolution.
package esi

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
	"strings"
	"time"

	"standings/internal/config"
	"standings/internal/middleware"
	"standings/internal/models"
	"standings/internal/observability"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// Batch limits imposed by the contact endpoints.
const (
	DefaultWriteBatchSize  = 100
	DefaultDeleteBatchSize = 20
	namesBatchSize         = 1000
)

// Client talks to ESI. Every call is rate limited and retried on transient failures.
type Client struct {
	baseURL         string
	userAgent       string
	http            *http.Client
	limiter         *rate.Limiter
	timeout         time.Duration
	maxTries        uint
	initialBackoff  time.Duration
	writeBatchSize  int
	deleteBatchSize int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBaseURL points the client at another server, typically an httptest.Server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithLimiter replaces the request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetry sets the attempt count and the first backoff interval.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.initialBackoff = initial
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBatchSizes overrides the add/update and delete batch sizes.
func WithBatchSizes(write, del int) Option {
	return func(c *Client) {
		if write > 0 {
			c.writeBatchSize = write
		}
		if del > 0 {
			c.deleteBatchSize = del
		}
	}
}

// New returns a client configured from opts.
func New(opts config.ESIOptions, options ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		userAgent:       opts.UserAgent,
		http:            &http.Client{},
		limiter:         rate.NewLimiter(rate.Limit(opts.RateLimitPerSecond), opts.RateBurst),
		timeout:         time.Duration(opts.TimeoutSeconds) * time.Second,
		maxTries:        uint(max(opts.MaxRetries, 1)),
		initialBackoff:  time.Duration(opts.BackoffInitialMS) * time.Millisecond,
		writeBatchSize:  DefaultWriteBatchSize,
		deleteBatchSize: DefaultDeleteBatchSize,
	}
	for _, o := range options {
		o(c)
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	return c
}

type request struct {
	method string
	// route is the path template used for metrics and span names.
	route string
	path  string
	query url.Values
	token string
	body  any
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

// do performs req and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) (http.Header, error) {
	var payload []byte
	if req.body != nil {
		var err error
		if payload, err = json.Marshal(req.body); err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", req.method, req.route, err)
		}
	}

	attempt := func() (http.Header, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		attemptCtx, span := observability.StartClientSpan(attemptCtx, "esi", req.method, req.route)
		defer span.End()

		target := c.baseURL + req.path
		if len(req.query) > 0 {
			target += "?" + req.query.Encode()
		}
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, target, body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		httpReq.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			httpReq.Header.Set("User-Agent", c.userAgent)
		}
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if req.token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+req.token)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			observability.ESIRequests.WithLabelValues(req.method, "network").Inc()
			span.RecordError(err)
			return nil, err
		}
		defer resp.Body.Close()
		observability.ESIRequests.WithLabelValues(req.method, strconv.Itoa(resp.StatusCode)).Inc()
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

		if resp.StatusCode >= 400 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			serr := &StatusError{Method: req.method, Route: req.route, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
			span.RecordError(serr)
			if serr.Retryable() {
				return nil, serr
			}
			return nil, backoff.Permanent(serr)
		}

		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
				return nil, backoff.Permanent(models.NewInternalError(fmt.Errorf("decode %s %s: %w", req.method, req.route, err)))
			}
		}
		return resp.Header, nil
	}

	header, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.ESIRetries.Inc()
			middleware.Logger.WarnContext(ctx, "ESI call failed, retrying",
				"method", req.method, "route", req.route, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return nil, classify(ctx, req, err)
	}
	return header, nil
}
