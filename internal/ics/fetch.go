package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appLog "calingest/internal/log"
)

const (
	// DefaultFetchTimeout bounds a single feed download.
	DefaultFetchTimeout = 15 * time.Second

	maxFeedBytes = 32 << 20
)

// StatusError reports a non-2xx response from the feed host.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "ics fetch: " + e.Status
	}
	return fmt.Sprintf("ics fetch: HTTP %d", e.StatusCode)
}

// Fetcher downloads feeds with a plain, uncached GET.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher whose requests give up after timeout.
// A non-positive timeout selects DefaultFetchTimeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// NewFetcherWithClient wraps an existing client, e.g. an httptest one.
func NewFetcherWithClient(c *http.Client) *Fetcher {
	if c == nil {
		return NewFetcher(0)
	}
	return &Fetcher{client: c}
}

// Fetch returns the body at url. Non-2xx responses yield *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("source URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ics fetch: build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	started := time.Now()
	appLog.Debug("ics fetch start", "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ics fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("ics fetch: read body: %w", err)
	}

	appLog.Info("ics fetch success", "url", redactURL(url), "status", resp.StatusCode,
		"bytes", len(body), "elapsed", time.Since(started).String())
	return body, nil
}

// redactURL hides the path and query of a feed URL for logging; private
// feed URLs usually carry a token there.
//
//	https://example.com/path/to/private.ics?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	i += 3
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' && u[j] != '#' {
		j++
	}
	host := u[:j]
	if at := strings.LastIndex(host, "@"); at >= i {
		host = u[:i] + host[at+1:]
	}
	return host + redactedSuffix
}

// RedactURL is redactURL for callers outside the package.
func RedactURL(u string) string {
	return redactURL(u)
}
