// Package fetch downloads remote images under a size policy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultContentType is reported when the server sends no Content-Type.
const DefaultContentType = "application/octet-stream"

var ErrEmptyBody = errors.New("empty response body")

// InvalidURLError reports a URL that cannot be fetched.
type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid URL %q: %s", e.URL, e.Reason)
}

// UpstreamError reports a non-2xx response.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// TooLargeError reports a body exceeding the configured maximum.
type TooLargeError struct {
	Actual int64
	Max    int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file too large: %d bytes (%s) exceeds limit of %d bytes (%s)",
		e.Actual, humanize.IBytes(uint64(e.Actual)), e.Max, humanize.IBytes(uint64(e.Max)))
}

// Download is a fetched image body.
type Download struct {
	Body        []byte
	ContentType string
}

// Options configures a Fetcher.
type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	Client    *http.Client
}

// Fetcher downloads a single URL.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// New creates a Fetcher. A nil Client gets a fresh http.Client with the
// configured timeout.
func New(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{client: client, maxBytes: opts.MaxBytes, userAgent: opts.UserAgent}
}

// Fetch downloads rawURL. The size limit is checked after the body has
// been read in full; Content-Length is not trusted.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	if err := validate(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &InvalidURLError{URL: rawURL, Reason: err.Error()}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return nil, &TooLargeError{Actual: int64(len(body)), Max: f.maxBytes}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &Download{Body: body, ContentType: contentType}, nil
}

func validate(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return &InvalidURLError{URL: rawURL, Reason: err.Error()}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return &InvalidURLError{URL: rawURL, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &InvalidURLError{URL: rawURL, Reason: "missing host"}
	}
	return nil
}
