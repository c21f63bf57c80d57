package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, attempts int) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(Options{
		UserAgent: "harvest-test/1.0",
		Timeout:   5 * time.Second,
		Retry:     RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 2},
	})
	require.NoError(t, err)
	return f
}

func TestFetchSendsClientIdentity(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	page, err := newTestFetcher(t, 1).Fetch(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, "harvest-test/1.0", gotUA)
	assert.Equal(t, "<html>ok</html>", string(page.Body))
	assert.Equal(t, 1, page.Attempts)
	assert.Equal(t, srv.URL+"/a", page.FinalURL)
}

func TestFetchRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("fine"))
	}))
	defer srv.Close()

	page, err := newTestFetcher(t, 4).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Attempts)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchSurfacesTransientFailureAfterBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, 3).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsNotFound(err))

	var transient *TransientError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, 3, transient.Attempts)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	cases := []int{http.StatusNotFound, http.StatusGone, http.StatusForbidden}
	for _, code := range cases {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(code)
			}))
			defer srv.Close()

			_, err := newTestFetcher(t, 5).Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.True(t, IsNotFound(err))
			assert.False(t, IsTransient(err))
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, code, statusErr.StatusCode)
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestFetchTreatsTooManyRequestsAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, 2).Fetch(context.Background(), srv.URL)
	assert.True(t, IsTransient(err))
	assert.False(t, IsNotFound(err))
}

func TestFetchDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, _ = gz.Write([]byte("compressed article"))
		_ = gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	page, err := newTestFetcher(t, 1).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "compressed article", string(page.Body))
}

type denyGate struct{}

func (denyGate) Allowed(context.Context, *url.URL) bool { return false }

func TestFetchHonoursGate(t *testing.T) {
	f, err := NewHTTPFetcher(Options{Gate: denyGate{}})
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "https://example.com/private")
	assert.ErrorIs(t, err, ErrDisallowed)
}

func TestFetchStopsOnCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(Options{Retry: RetryPolicy{MaxAttempts: 10, InitialDelay: time.Hour}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryPolicyDelayIsCapped(t *testing.T) {
	p := RetryPolicy{InitialDelay: 500 * time.Millisecond, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 3*time.Second, p.Delay(4))
}
