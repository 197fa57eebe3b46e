package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kakomon-harvester/lib/telemetry"
)

func TestMain(m *testing.M) {
	cleanup := telemetry.SetupForTesting("test:fetch")
	defer cleanup()
	m.Run()
}

func testClient(t *testing.T, opts Options) *Client {
	t.Helper()
	if opts.Throttle == 0 {
		opts.Throttle = -1
	}
	client, err := NewClient(opts)
	require.NoError(t, err)
	return client
}

func TestCacheRoundTrip(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("<html>hit me once</html>"))
	}))
	defer srv.Close()

	client := testClient(t, Options{CacheDir: t.TempDir()})
	req := Request{URL: srv.URL, Query: []Pair{{"page", "3"}}}

	first, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.FromCache)

	require.Equal(t, int64(1), calls.Load())
	require.Equal(t, first.Body, second.Body)
	require.Equal(t, first.Decode(), second.Decode())
}

func TestExplicitCacheKey(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	client := testClient(t, Options{CacheDir: t.TempDir()})

	// Different URL paths but the same explicit key should collapse
	// into one cache entry.
	_, err := client.Do(context.Background(), Request{URL: srv.URL + "/a", CacheKey: "sid-3"})
	require.NoError(t, err)
	res, err := client.Do(context.Background(), Request{URL: srv.URL + "/b", CacheKey: "sid-3"})
	require.NoError(t, err)

	require.True(t, res.FromCache)
	require.Equal(t, int64(1), calls.Load())
}

func TestFingerprintIgnoresPairOrder(t *testing.T) {
	a := Request{URL: "https://example.com/q", Form: []Pair{{"x", "1"}, {"y", "2"}}}
	b := Request{URL: "https://example.com/q", Form: []Pair{{"y", "2"}, {"x", "1"}}}
	c := Request{URL: "https://example.com/q", Form: []Pair{{"x", "1"}, {"y", "3"}}}

	require.Equal(t, Fingerprint(a), Fingerprint(b))
	require.NotEqual(t, Fingerprint(a), Fingerprint(c))
	require.Equal(t, "verbatim", Fingerprint(Request{URL: "https://example.com", CacheKey: "verbatim"}))
}

func TestFingerprintNormalizesURL(t *testing.T) {
	a := Request{URL: "https://example.com/page?b=2&a=1"}
	b := Request{URL: "https://example.com/page?a=1&b=2#frag"}
	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestRetryBackoffTermination(t *testing.T) {
	prev := retryBaseDelay
	retryBaseDelay = 10 * time.Millisecond
	defer func() { retryBaseDelay = prev }()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := testClient(t, Options{MaxRetries: 3})

	start := time.Now()
	_, err := client.Do(context.Background(), Request{URL: srv.URL})
	elapsed := time.Since(start)

	require.Error(t, err)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Status)

	require.Equal(t, int64(3), calls.Load())
	// backoffs: base, then base*2
	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestRetryRecoversAfter429(t *testing.T) {
	prev := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = prev }()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	client := testClient(t, Options{})
	res, err := client.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "recovered", res.Text())
	require.Equal(t, int64(2), calls.Load())
}

func TestNonRetryableStatusFailsFast(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := testClient(t, Options{MaxRetries: 5})
	_, err := client.Do(context.Background(), Request{URL: srv.URL})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Status)
	require.NotErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, int64(1), calls.Load())
}

func TestThrottleSpacesRequests(t *testing.T) {
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stamps = append(stamps, time.Now())
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := testClient(t, Options{Throttle: 50 * time.Millisecond})

	_, err := client.Do(context.Background(), Request{URL: srv.URL, Query: []Pair{{"n", "1"}}})
	require.NoError(t, err)
	_, err = client.Do(context.Background(), Request{URL: srv.URL, Query: []Pair{{"n", "2"}}})
	require.NoError(t, err)

	require.Len(t, stamps, 2)
	require.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 45*time.Millisecond)
}

func TestDecodeByContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"total": 80}`))
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`{"looks": "like json"}`))
		}
	}))
	defer srv.Close()

	client := testClient(t, Options{})

	res, err := client.Do(context.Background(), Request{URL: srv.URL + "/json"})
	require.NoError(t, err)
	decoded, ok := res.Decode().(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(80), decoded["total"])

	res, err = client.Do(context.Background(), Request{URL: srv.URL + "/html"})
	require.NoError(t, err)
	_, isString := res.Decode().(string)
	require.True(t, isString)
}

func TestContextCancelDuringBackoff(t *testing.T) {
	prev := retryBaseDelay
	retryBaseDelay = time.Minute
	defer func() { retryBaseDelay = prev }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := testClient(t, Options{})
	_, err := client.Do(ctx, Request{URL: srv.URL})
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
