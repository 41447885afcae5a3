// Package httpretry wraps an HTTP client with retries, exponential backoff
// and full jitter for calls to external APIs such as the copywriting model.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// Doer executes HTTP requests. *http.Client and *Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes a Client. Zero values take the defaults.
type Options struct {
	// MaxRetries is the number of attempts after the first (default 3).
	MaxRetries int
	// BaseDelay is the backoff ceiling of the first retry (default 1s).
	BaseDelay time.Duration
	// MaxDelay caps any single wait (default 30s).
	MaxDelay time.Duration
}

// Client retries transient failures of the wrapped Doer.
type Client struct {
	doer Doer
	opts Options
}

// New wraps doer. A nil doer is an http.Client with a 30s timeout.
func New(doer Doer, opts Options) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Client{doer: doer, opts: opts}
}

// Do sends req, retrying on 429, 5xx gateway errors and network errors.
// Client errors and context cancellation are not retried. The response of
// the last attempt is returned as-is so callers can read its body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var (
		lastErr   error
		nextDelay time.Duration
	)
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}
			delay := nextDelay
			if delay <= 0 {
				delay = c.backoff(attempt)
			}
			logger.Debug("retrying request", "attempt", attempt, "max_retries", c.opts.MaxRetries,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "delay", delay.String())

			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-req.Context().Done():
				t.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := c.doer.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			nextDelay = 0
			continue
		}
		if !Retryable(resp.StatusCode) || attempt == c.opts.MaxRetries {
			return resp, nil
		}

		nextDelay = retryAfter(resp.Header.Get("Retry-After"), c.opts.MaxDelay)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}
	return nil, lastErr
}

// backoff is random(0, min(MaxDelay, BaseDelay*2^(attempt-1))) with a 10ms
// floor.
func (c *Client) backoff(attempt int) time.Duration {
	ceiling := float64(c.opts.BaseDelay) * math.Pow(2, float64(attempt-1))
	if ceiling > float64(c.opts.MaxDelay) {
		ceiling = float64(c.opts.MaxDelay)
	}
	d := time.Duration(rand.Float64() * ceiling)
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string, max time.Duration) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, max)
}

// Retryable reports whether status is worth another attempt.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
