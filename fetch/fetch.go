// Package fetch retrieves remote artifact bytes over HTTP with bounded
// retry on transport failures. Server errors (5xx) and connection errors
// are retried with exponential backoff; client errors (4xx) fail fast.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-cleanhttp"
)

// Fetcher retrieves the bytes behind a remote URL. The caller owns the
// returned ReadCloser and must close it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// TransportError marks a failure of the transfer mechanism itself (socket
// errors, 5xx responses, timeouts). Transport errors are retried up to the
// configured limit before being surfaced.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPFetcher fetches over HTTP using a pooled client. Transport errors are
// retried with exponential backoff; after maxRetries additional attempts
// the last TransportError is returned.
type HTTPFetcher struct {
	client     *http.Client
	maxRetries int
	logger     *slog.Logger
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithClient replaces the default pooled HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n int) HTTPOption {
	return func(f *HTTPFetcher) { f.maxRetries = n }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates an HTTPFetcher with a pooled transport and
// 3 retries by default.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:     cleanhttp.DefaultPooledClient(),
		maxRetries: 3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher. Cancellation of ctx aborts both the in-flight
// request and any backoff wait.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), uint64(f.maxRetries)), ctx)

	var body io.ReadCloser
	attempt := 0
	op := func() error {
		attempt++
		rc, err := f.fetchOnce(ctx, url)
		if err != nil {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				f.logger.Warn("fetch retrying",
					slog.String("url", url),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
			}
			return err
		}
		body = rc
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// fetchOnce performs a single GET. Client errors are wrapped in
// backoff.Permanent so Retry stops immediately.
func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request for %s: %w", url, err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, &TransportError{URL: url, StatusCode: resp.StatusCode}
	default:
		resp.Body.Close()
		return nil, backoff.Permanent(&TransportError{URL: url, StatusCode: resp.StatusCode})
	}
}
