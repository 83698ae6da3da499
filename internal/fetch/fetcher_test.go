package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_Success(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "imgingest-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG fake"))
	})

	f := New(Options{Timeout: time.Second, MaxBytes: 1024, UserAgent: "imgingest-test"})
	dl, err := f.Fetch(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", dl.ContentType)
	assert.Equal(t, []byte("\x89PNG fake"), dl.Body)
}

func TestFetch_DefaultContentType(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		w.Write([]byte{0x01, 0x02})
	})

	dl, err := New(Options{MaxBytes: 1024}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, DefaultContentType, dl.ContentType)
}

func TestFetch_InvalidURL(t *testing.T) {
	var hits atomic.Int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		hits.Add(1)
		return nil, errors.New("network must not be used")
	})
	f := New(Options{MaxBytes: 1024, Client: &http.Client{Transport: transport}})

	for _, raw := range []string{"ftp://example.com/a.png", "file:///etc/passwd", "example.com/a.png", "https://", "::"} {
		t.Run(raw, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), raw)
			var invalid *InvalidURLError
			require.ErrorAs(t, err, &invalid)
		})
	}
	assert.Zero(t, hits.Load(), "no request should reach the network")
}

func TestFetch_UpstreamError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := New(Options{MaxBytes: 1024}).Fetch(context.Background(), srv.URL)
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusNotFound, upstream.StatusCode)
	assert.Contains(t, err.Error(), "404")
}

func TestFetch_EmptyBody(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := New(Options{MaxBytes: 1024}).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestFetch_TooLarge(t *testing.T) {
	body := strings.Repeat("x", 2048)
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		// A lying Content-Length would be ignored as well
		w.Write([]byte(body))
	})

	_, err := New(Options{MaxBytes: 1024}).Fetch(context.Background(), srv.URL)
	var tooLarge *TooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, int64(2048), tooLarge.Actual)
	assert.Equal(t, int64(1024), tooLarge.Max)
	assert.Contains(t, err.Error(), "2048 bytes")
	assert.Contains(t, err.Error(), "1024 bytes")
}

func TestFetch_Timeout(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	_, err := New(Options{Timeout: 50 * time.Millisecond, MaxBytes: 1024}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
