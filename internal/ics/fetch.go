package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	appLog "cityfeed/internal/log"
)

// Source represents a single feed subscription.
type Source struct {
	// ID is an internal identifier (config source ID).
	ID string
	// URL is the feed endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single source.
type FetchResult struct {
	Source    Source
	Body      []byte // feed payload (either freshly fetched or from cache)
	FromCache bool   // true if the cached body was reused
}

// FetchOptions tunes a Fetcher. Zero values pick defaults.
type FetchOptions struct {
	// CacheDir is the base directory for per-URL cache subdirectories.
	CacheDir string
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed one.
	Retries int
	// RetryBackoff is the pause before the first retry; it doubles on
	// every further retry.
	RetryBackoff time.Duration
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StatusError is a non-OK, non-304 HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "unexpected status: " + e.Status
}

var errNoCachedBody = errors.New("received 304 Not Modified but no cached body available")

// Fetcher fetches feeds with HTTP caching (ETag / Last-Modified), a
// disk-backed body cache, bounded retries and one circuit breaker per
// source, so a feed that keeps failing is skipped quickly.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	retries  int
	backoff  time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewFetcher creates a new Fetcher.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.CacheDir == "" {
		// Development fallback; deployments set this explicitly.
		opts.CacheDir = "./var/feed-cache"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{
		client:   client,
		cacheDir: opts.CacheDir,
		retries:  opts.Retries,
		backoff:  opts.RetryBackoff,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// FetchAll fetches all given sources. A failing source never blocks the
// others: its error is logged and collected in the returned slice, and
// results only contain sources that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	errs := make([]error, 0)

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			appLog.Error("feed fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne fetches a single source through its circuit breaker. When the
// network, the server or the breaker refuses, a cached body is returned
// instead if one exists.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	cachePath, err := f.cachePathForURL(src.URL)
	if err != nil {
		return FetchResult{}, err
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	out, err := f.breaker(src.ID).Execute(func() (interface{}, error) {
		return f.fetchWithRetry(ctx, src, cachePath, meta, cachedBody)
	})
	if err != nil {
		if len(cachedBody) > 0 && ctx.Err() == nil {
			appLog.Error("feed fetch failed, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	return out.(FetchResult), nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, src Source, cachePath string, meta cacheEntry, cachedBody []byte) (FetchResult, error) {
	var lastErr error
	wait := f.backoff

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			appLog.Debug("feed fetch retry", "id", src.ID, "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return FetchResult{}, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		res, err := f.fetchOnce(ctx, src, cachePath, meta, cachedBody)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return FetchResult{}, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, src Source, cachePath string, meta cacheEntry, cachedBody []byte) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}

	// Conditional headers from cache metadata, only if the body is still there.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("feed fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("feed cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}

		appLog.Info("feed fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errNoCachedBody
		}
		appLog.Info("feed not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		return FetchResult{}, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
}

// retryable reports whether another attempt could succeed: transport
// errors and 5xx responses, but not 4xx.
func retryable(err error) bool {
	if errors.Is(err, errNoCachedBody) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	return true
}

// breaker returns the circuit breaker of a source, creating it on first use.
func (f *Fetcher) breaker(id string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[id]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "feed:" + id,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			appLog.Warn("feed circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	f.breakers[id] = cb
	return cb
}

func (f *Fetcher) cachePathForURL(url string) (string, error) {
	if url == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	dir := hex.EncodeToString(sum[:8])
	return filepath.Join(f.cacheDir, dir), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	metaFile := filepath.Join(cachePath, "meta.json")
	bodyFile := filepath.Join(cachePath, "body.ics")

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(bodyFile, body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaFile, data, 0o600)
}

// redactURL hides the path and query of a feed URL for logging, since
// private calendar links often carry a token there.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	scheme := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			scheme = idx + 3
			break
		}
	}
	if scheme == -1 {
		return "feed://...(redacted)"
	}

	host := scheme
	for host < len(u) && u[host] != '/' {
		host++
	}
	return u[:host] + redactedSuffix
}
