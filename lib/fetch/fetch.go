// Package fetch is the single road to the network for every scraper in
// this repo: it spaces requests out, retries transient failures with
// exponential backoff, and keeps a content-addressed response cache on
// disk so reruns don't hammer the origin.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"kakomon-harvester/lib/restyutil"
	"kakomon-harvester/lib/telemetry"
)

const (
	DefaultThrottle   = time.Second
	DefaultMaxRetries = 5
	DefaultTimeout    = 20 * time.Second

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// retryBaseDelay is the starting backoff after the first retryable
// failure, doubling each attempt. Tests shrink it to avoid real sleeps.
var retryBaseDelay = time.Second

// Pair is one key/value of a query string or form body. Order matters
// on the wire (some endpoints interleave repeated keys), so requests
// carry slices of pairs instead of url.Values.
type Pair struct {
	Key   string
	Value string
}

// Request describes one HTTP exchange. The zero Method means GET.
type Request struct {
	Method  string
	URL     string
	Query   []Pair
	Form    []Pair
	Headers map[string]string
	// CacheKey overrides the fingerprint-derived cache key when set.
	CacheKey string
}

// Result is what a fetch produced: either a cached body or a live
// response. RequestBody is nil for cache hits.
type Result struct {
	Status      int
	Body        []byte
	ContentType string
	RequestBody []byte
	FromCache   bool
}

// Decode parses the body as JSON when the content type says so (or the
// body parses as JSON on a cache hit, where no content type survives),
// otherwise it returns the body as a string.
func (r *Result) Decode() any {
	tryJSON := strings.Contains(r.ContentType, "application/json") || r.FromCache
	if tryJSON {
		var decoded any
		if err := json.Unmarshal(r.Body, &decoded); err == nil {
			return decoded
		}
		if !r.FromCache {
			return string(r.Body)
		}
	}
	return string(r.Body)
}

// Text returns the body as a string.
func (r *Result) Text() string {
	return string(r.Body)
}

// StatusError is a non-2xx response that is not worth retrying (or
// exhausted its retries).
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.Status, e.URL)
}

var ErrRetriesExhausted = errors.New("retries exhausted")

type Options struct {
	// CacheDir enables the on-disk response cache when non-empty.
	CacheDir string
	// Throttle is the minimum spacing between the starts of two
	// network calls made through this client. Zero means
	// DefaultThrottle; negative disables throttling.
	Throttle time.Duration
	// MaxRetries is the total number of attempts for retryable
	// failures (429, 5xx, transport errors). Zero means
	// DefaultMaxRetries.
	MaxRetries int
	// Timeout is the per-call HTTP timeout. Zero means DefaultTimeout.
	Timeout time.Duration
	// Snapshots receives a raw dump of every network exchange when
	// set. Cache hits are not dumped, nothing was exchanged.
	Snapshots restyutil.InstrumentOutput
	UserAgent string
}

// Client owns the throttle clock and the cache directory. One Client
// per origin; the throttle is a property of the remote endpoint, not
// of any one scraping session.
type Client struct {
	http  *resty.Client
	cache *diskCache
	opts  Options

	mu          sync.Mutex
	lastRequest time.Time

	snapshotSeq atomic.Uint64
}

func NewClient(opts Options) (*Client, error) {
	if opts.Throttle == 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetTimeout(opts.Timeout)
	client.SetHeader("user-agent", opts.UserAgent)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	telemetry.InstrumentResty(client, "kakomon.lib.fetch")

	c := &Client{
		http: client,
		opts: opts,
	}
	if opts.CacheDir != "" {
		c.cache, err = newDiskCache(opts.CacheDir)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Do performs one fetch. Cache hits return immediately without
// touching the network or the throttle clock. Everything else waits
// out the throttle window, then runs the retry loop.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	if req.Method == "" {
		req.Method = "GET"
	}

	key := Fingerprint(req)
	if c.cache != nil {
		body, ok, err := c.cache.get(key)
		if err != nil {
			return nil, fmt.Errorf("reading cache entry %s: %w", key, err)
		}
		if ok {
			slog.DebugContext(ctx, "cache hit", "key", key, "url", req.URL)
			return &Result{Status: 200, Body: body, FromCache: true}, nil
		}
	}

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	res, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	body := res.Body()
	if c.cache != nil {
		if err := c.cache.put(key, body); err != nil {
			return nil, fmt.Errorf("writing cache entry %s: %w", key, err)
		}
	}

	return &Result{
		Status:      res.StatusCode(),
		Body:        body,
		ContentType: res.Header().Get("Content-Type"),
		RequestBody: requestBody(req),
	}, nil
}

func (c *Client) throttle(ctx context.Context) error {
	if c.opts.Throttle <= 0 {
		return nil
	}

	c.mu.Lock()
	wait := c.opts.Throttle - time.Since(c.lastRequest)
	if !c.lastRequest.IsZero() && wait > 0 {
		c.mu.Unlock()
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		c.mu.Lock()
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Client) doWithRetry(ctx context.Context, req Request) (*resty.Response, error) {
	backoff := retryBaseDelay

	for attempt := 1; ; attempt++ {
		res, err := c.send(ctx, req)
		if err == nil && !retryableStatus(res.StatusCode()) {
			if res.IsSuccess() {
				return res, nil
			}
			// Not worth retrying: 4xx other than 429.
			return nil, &StatusError{Status: res.StatusCode(), URL: req.URL}
		}

		if err == nil {
			err = &StatusError{Status: res.StatusCode(), URL: req.URL}
		}
		if attempt >= c.opts.MaxRetries {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		slog.WarnContext(
			ctx, "retrying request",
			"url", req.URL,
			"attempt", attempt,
			"backoff", backoff,
			"err", err,
		)
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (c *Client) send(ctx context.Context, req Request) (*resty.Response, error) {
	r := c.http.R().SetContext(ctx)
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	for _, p := range req.Query {
		r.SetQueryParam(p.Key, p.Value)
	}

	var reqBody []byte
	if len(req.Form) > 0 {
		reqBody = requestBody(req)
		r.SetHeader("Content-Type", "application/x-www-form-urlencoded")
		r.SetBody(reqBody)
	}

	res, err := r.Execute(req.Method, req.URL)
	c.snapshot(req, reqBody, res, err)
	return res, err
}

func (c *Client) snapshot(req Request, reqBody []byte, res *resty.Response, err error) {
	if c.opts.Snapshots == nil {
		return
	}
	id := strconv.FormatUint(c.snapshotSeq.Add(1), 10)
	if err != nil {
		c.opts.Snapshots.Write(id, fmt.Sprintf("%s %s\n\nfailed: %s", req.Method, req.URL, err))
		return
	}
	c.opts.Snapshots.Write(id, restyutil.FormatHTTPMessage(
		req.Method, req.URL,
		res.Request.Header, reqBody,
		res.StatusCode(),
		res.Header(), res.Body(),
	))
}

func requestBody(req Request) []byte {
	if len(req.Form) == 0 {
		return nil
	}
	return []byte(encodePairs(req.Form))
}

func retryableStatus(status int) bool {
	return status == 429 || (status >= 500 && status < 600)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
