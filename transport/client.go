package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/types"
)

const (
	DefaultRetries    = 3
	DefaultBackoff    = 2 * time.Second
	DefaultMultiplier = 2.0
	DefaultTimeout    = 120 * time.Second

	// ChunkSize bounds the buffer used when streaming bodies to disk.
	ChunkSize = 8192

	maxErrorBody = 400
)

// Headers is the set of request headers sent with every call of a client.
type Headers map[string]string

// Client performs JSON and streaming calls against remote services.
// GET requests are retried with exponential backoff; POST requests are
// sent exactly once because submissions have side effects on the remote.
type Client struct {
	HTTP    *http.Client
	Retries int
	Backoff Backoff

	// Sleep waits between retries. It must return early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error

	log *slog.Logger
}

// New creates a client with the given per-request timeout and retry policy.
func New(timeout time.Duration, retries int, backoff Backoff, logger *slog.Logger) *Client {
	if retries < 1 {
		retries = 1
	}
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		Retries: retries,
		Backoff: backoff,
		Sleep:   SleepContext,
		log:     logging.OrDiscard(logger).With("component", "transport"),
	}
}

// PostJSON sends payload and decodes the JSON reply into out. Not retried.
func (c *Client) PostJSON(ctx context.Context, url string, headers Headers, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, url, headers, body)
	if err != nil {
		if rf := (*RequestFailure)(nil); errors.As(err, &rf) {
			rf.Attempts = 1
		}
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

// GetJSON fetches url and decodes the JSON reply into out, retrying
// transient failures.
func (c *Client) GetJSON(ctx context.Context, url string, headers Headers, out any) error {
	resp, err := c.withRetry(ctx, http.MethodGet, url, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

// Stream performs the request and returns the open response body for the
// caller to consume. GET is retried; anything else is attempted once.
func (c *Client) Stream(ctx context.Context, method, url string, headers Headers, payload any) (io.ReadCloser, error) {
	if method == http.MethodGet {
		resp, err := c.withRetry(ctx, method, url, headers)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}
	resp, err := c.do(ctx, method, url, headers, body)
	if err != nil {
		if rf := (*RequestFailure)(nil); errors.As(err, &rf) {
			rf.Attempts = 1
		}
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) withRetry(ctx context.Context, method, url string, headers Headers) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.Retries; attempt++ {
		resp, err := c.do(ctx, method, url, headers, nil)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var rf *RequestFailure
		if !errors.As(err, &rf) {
			return nil, err
		}
		rf.Attempts = attempt
		if !rf.retryable() || attempt == c.Retries || ctx.Err() != nil {
			return nil, rf
		}

		delay := c.Backoff.Delay(attempt)
		c.log.Warn("request failed, retrying",
			"method", method, "endpoint", url, "status", rf.Status,
			"attempt", attempt, "delay", delay, "err", rf.Err)
		if err := c.Sleep(ctx, delay); err != nil {
			return nil, rf
		}
	}
	return nil, lastErr
}

// do performs a single request. Any non-2xx reply becomes a RequestFailure.
func (c *Client) do(ctx context.Context, method, url string, headers Headers, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &RequestFailure{Method: method, Endpoint: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RequestFailure{
			Method:   method,
			Endpoint: url,
			Status:   resp.StatusCode,
			Body:     string(snippet),
		}
	}
	return resp, nil
}

func decode(resp *http.Response, out any) error {
	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v (body: %s)", types.ErrProtocol, resp.Request.URL, err, Truncate(string(data), maxErrorBody))
	}
	return nil
}

// CopyChunked copies src to dst through a fixed-size buffer so memory use
// does not grow with the artifact size.
func CopyChunked(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	// Hide ReaderFrom/WriterTo so the buffer is always used.
	return io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Truncate shortens s to at most n bytes for diagnostics.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
