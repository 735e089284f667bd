// Package fetch implements the resilient fetch client: one logical fetch
// against a data source, rotating through ranked endpoints with bounded
// retries, rate limiting, and per-endpoint circuit breaking.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/envoyou/crossval/internal/health"
	"github.com/envoyou/crossval/internal/model"
	"github.com/envoyou/crossval/internal/resilience"
)

// ErrAllEndpointsFailed is returned when every endpoint of a source has been
// exhausted. The orchestrator falls through to cache and sample tiers; this
// client never consults the cache itself.
var ErrAllEndpointsFailed = eris.New("all endpoints failed")

// Params carries the query parameters of one logical fetch.
type Params struct {
	Company    string
	State      string
	Year       int
	FacilityID string
	Limit      int
}

// CacheKey returns a stable key identifying this query for the cache store.
func (p Params) CacheKey(sourceID string) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s", sourceID, p.Company, p.State, p.Year, p.FacilityID)
}

// Source describes one logical external data provider: its endpoints plus
// the adapter functions that shape requests and parse responses. Adapters
// live in pkg/envirofacts and pkg/campd.
type Source struct {
	ID        string
	Endpoints []health.Endpoint

	// BuildURL renders the request URL for one endpoint base URL.
	BuildURL func(base string, p Params) string
	// Decode parses a response body into the source's record type.
	Decode func(body []byte) (any, error)
}

// Options configures the fetch client.
type Options struct {
	// Timeout bounds each individual attempt. Default: 15s.
	Timeout time.Duration
	// Retry is the per-endpoint retry policy.
	Retry resilience.RetryConfig
	// Breaker configures the per-endpoint circuit breakers.
	Breaker resilience.BreakerConfig
	// RateLimit is the per-endpoint request rate (events/sec). Zero disables
	// limiting.
	RateLimit float64
	// RateBurst is the limiter burst size. Default: 1 when RateLimit is set.
	RateBurst int
	// UserAgent identifies the engine to upstream services.
	UserAgent string
	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client performs resilient fetches and reports every attempt's outcome to
// the health tracker.
type Client struct {
	http    *http.Client
	tracker *health.Tracker
	opts    Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*resilience.Breaker
}

// NewClient creates a fetch client and registers every source's endpoints
// with the tracker.
func NewClient(tracker *health.Tracker, opts Options, sources ...Source) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "crossval/1.0"
	}
	if opts.RateLimit > 0 && opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	c := &Client{
		http:     hc,
		tracker:  tracker,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*resilience.Breaker),
	}
	for _, src := range sources {
		tracker.Register(src.Endpoints...)
	}
	return c
}

func (c *Client) limiter(endpointURL string) *rate.Limiter {
	if c.opts.RateLimit <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[endpointURL]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.opts.RateLimit), c.opts.RateBurst)
		c.limiters[endpointURL] = l
	}
	return l
}

func (c *Client) breaker(endpointURL string) *resilience.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[endpointURL]
	if !ok {
		b = resilience.NewBreaker(c.opts.Breaker)
		c.breakers[endpointURL] = b
	}
	return b
}

// Fetch performs one logical fetch: endpoints in health-ranked order, each
// retried only on transient conditions, short-circuiting on the first
// success. A non-429 4xx advances to the next endpoint immediately. Returns
// ErrAllEndpointsFailed once the list is exhausted or the context expires.
func (c *Client) Fetch(ctx context.Context, src Source, p Params) (any, model.Provenance, error) {
	ranked := c.tracker.Rank(src.ID)
	if len(ranked) == 0 {
		return nil, model.Provenance{}, eris.Wrapf(ErrAllEndpointsFailed, "source %s has no endpoints", src.ID)
	}

	var lastErr error
	for _, ep := range ranked {
		if ctx.Err() != nil {
			break
		}

		br := c.breaker(ep.URL)
		if err := br.Allow(); err != nil {
			zap.L().Debug("skipping endpoint, breaker open",
				zap.String("source", src.ID),
				zap.String("endpoint", ep.URL),
			)
			lastErr = err
			continue
		}

		payload, err := c.fetchEndpoint(ctx, src, ep, p)
		if err != nil {
			c.tracker.RecordFailure(ep)
			br.RecordFailure()
			lastErr = err
			zap.L().Warn("endpoint failed",
				zap.String("source", src.ID),
				zap.String("endpoint", ep.URL),
				zap.Error(err),
			)
			continue
		}

		c.tracker.RecordSuccess(ep)
		br.RecordSuccess()
		return payload, provenanceFor(ep), nil
	}

	if lastErr != nil {
		return nil, model.Provenance{}, eris.Wrapf(ErrAllEndpointsFailed, "source %s: %v", src.ID, lastErr)
	}
	return nil, model.Provenance{}, eris.Wrapf(ErrAllEndpointsFailed, "source %s", src.ID)
}

func provenanceFor(ep health.Endpoint) model.Provenance {
	prov := model.Provenance{Tier: model.TierFresh, Endpoint: ep.URL}
	if ep.Role == health.RoleBackup {
		prov.Tier = model.TierBackup
		prov.BackupIndex = ep.BackupIndex
	}
	return prov
}

// fetchEndpoint runs the retry loop for one endpoint.
func (c *Client) fetchEndpoint(ctx context.Context, src Source, ep health.Endpoint, p Params) (any, error) {
	retry := c.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(src.ID, ep.URL)
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (any, error) {
		if l := c.limiter(ep.URL); l != nil {
			if err := l.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return c.attempt(ctx, src, ep, p)
	})
}

// attempt performs a single HTTP request. Transient outcomes (timeout, 429,
// 5xx) come back wrapped as TransientError so the retry policy re-attempts;
// anything else is permanent for this endpoint.
func (c *Client) attempt(ctx context.Context, src Source, ep health.Endpoint, p Params) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	reqURL := src.BuildURL(ep.URL, p)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors are classified by IsTransient downstream.
		return nil, eris.Wrap(err, "fetch: do request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: read body"), resp.StatusCode)
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("fetch: %s returned %d", reqURL, resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("fetch: %s returned %d", reqURL, resp.StatusCode)
	}

	payload, err := src.Decode(body)
	if err != nil {
		// Schema drift on this endpoint; permanent for the request.
		return nil, eris.Wrapf(err, "fetch: decode %s response", src.ID)
	}
	return payload, nil
}

// Probe issues a single health-check request against every endpoint of the
// given sources and returns the tracker snapshot afterwards. Used by the
// endpoints CLI command.
func (c *Client) Probe(ctx context.Context, sources ...Source) map[string][]health.Status {
	for _, src := range sources {
		for _, ep := range src.Endpoints {
			if _, err := c.attempt(ctx, src, ep, Params{Limit: 1}); err != nil {
				c.tracker.RecordFailure(ep)
			} else {
				c.tracker.RecordSuccess(ep)
			}
		}
	}
	return c.tracker.Snapshot()
}
