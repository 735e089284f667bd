package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envoyou/crossval/internal/health"
	"github.com/envoyou/crossval/internal/model"
	"github.com/envoyou/crossval/internal/resilience"
)

func fastOpts() Options {
	return Options{
		Timeout: 2 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2.0,
		},
	}
}

// jsonHandler returns the given payload as a JSON array of strings.
func jsonHandler(payload []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	}
}

func statusHandler(code int, hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(code)
	}
}

func testSource(urls ...string) Source {
	endpoints := make([]health.Endpoint, len(urls))
	for i, u := range urls {
		role := health.RolePrimary
		backupIndex := 0
		if i > 0 {
			role = health.RoleBackup
			backupIndex = i - 1
		}
		endpoints[i] = health.Endpoint{SourceID: "test", URL: u, Role: role, BackupIndex: backupIndex}
	}
	return Source{
		ID:        "test",
		Endpoints: endpoints,
		BuildURL:  func(base string, p Params) string { return base + "/records" },
		Decode: func(body []byte) (any, error) {
			var out []string
			if err := json.Unmarshal(body, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

func TestFetch_PrimarySucceeds(t *testing.T) {
	srv := httptest.NewServer(jsonHandler([]string{"a", "b"}))
	defer srv.Close()

	src := testSource(srv.URL)
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts(), src)

	payload, prov, err := c.Fetch(context.Background(), src, Params{Company: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, payload)
	assert.Equal(t, model.TierFresh, prov.Tier)
	assert.Equal(t, srv.URL, prov.Endpoint)
}

func TestFetch_RetriesTransientThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]string{"ok"})
	}))
	defer srv.Close()

	src := testSource(srv.URL)
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts(), src)

	payload, prov, err := c.Fetch(context.Background(), src, Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, payload)
	assert.Equal(t, model.TierFresh, prov.Tier)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetch_PermanentStatusAdvancesWithoutRetry(t *testing.T) {
	var primaryHits atomic.Int32
	primary := httptest.NewServer(statusHandler(http.StatusNotFound, &primaryHits))
	defer primary.Close()
	backup := httptest.NewServer(jsonHandler([]string{"backup data"}))
	defer backup.Close()

	src := testSource(primary.URL, backup.URL)
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts(), src)

	payload, prov, err := c.Fetch(context.Background(), src, Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"backup data"}, payload)
	assert.Equal(t, model.TierBackup, prov.Tier)
	assert.Equal(t, 0, prov.BackupIndex)

	// 404 is permanent for the endpoint: one attempt, no retries.
	assert.Equal(t, int32(1), primaryHits.Load())
}

func TestFetch_ExhaustsRetriesBeforeRotating(t *testing.T) {
	var primaryHits atomic.Int32
	primary := httptest.NewServer(statusHandler(http.StatusInternalServerError, &primaryHits))
	defer primary.Close()
	backup := httptest.NewServer(jsonHandler([]string{"backup data"}))
	defer backup.Close()

	src := testSource(primary.URL, backup.URL)
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts(), src)

	payload, _, err := c.Fetch(context.Background(), src, Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"backup data"}, payload)
	assert.Equal(t, int32(3), primaryHits.Load())
}

func TestFetch_AllEndpointsFailed(t *testing.T) {
	primary := httptest.NewServer(statusHandler(http.StatusInternalServerError, nil))
	defer primary.Close()
	backup := httptest.NewServer(statusHandler(http.StatusBadGateway, nil))
	defer backup.Close()

	src := testSource(primary.URL, backup.URL)
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts(), src)

	_, _, err := c.Fetch(context.Background(), src, Params{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllEndpointsFailed)
}

func TestFetch_DecodeErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	src := testSource(srv.URL)
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts(), src)

	_, _, err := c.Fetch(context.Background(), src, Params{})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_RecordsHealthOutcomes(t *testing.T) {
	primaryA := httptest.NewServer(statusHandler(http.StatusInternalServerError, nil))
	defer primaryA.Close()
	primaryB := httptest.NewServer(statusHandler(http.StatusInternalServerError, nil))
	defer primaryB.Close()
	backup := httptest.NewServer(jsonHandler([]string{"ok"}))
	defer backup.Close()

	src := testSource(primaryA.URL, primaryB.URL, backup.URL)
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts(), src)

	_, prov, err := c.Fetch(context.Background(), src, Params{})
	require.NoError(t, err)
	assert.Equal(t, model.TierBackup, prov.Tier)
	assert.Equal(t, 1, prov.BackupIndex)

	// Each failing endpoint took exactly one failure; the serving endpoint
	// one success.
	snap := tr.Snapshot()["test"]
	require.Len(t, snap, 3)
	assert.Equal(t, 1, snap[0].ConsecutiveFailures)
	assert.Equal(t, 1, snap[1].ConsecutiveFailures)
	assert.Equal(t, 0, snap[2].ConsecutiveFailures)
	assert.NotNil(t, snap[2].LastSuccessAt)

	// The healthy endpoint now ranks first for the next request.
	ranked := tr.Rank("test")
	assert.Equal(t, backup.URL, ranked[0].URL)
}

func TestFetch_OpenBreakerSkipsEndpoint(t *testing.T) {
	var primaryHits atomic.Int32
	primary := httptest.NewServer(statusHandler(http.StatusInternalServerError, &primaryHits))
	defer primary.Close()
	backup := httptest.NewServer(jsonHandler([]string{"ok"}))
	defer backup.Close()

	src := testSource(primary.URL, backup.URL)
	tr := health.NewTracker(10)
	opts := fastOpts()
	opts.Breaker = resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute}
	c := NewClient(tr, opts, src)

	_, _, err := c.Fetch(context.Background(), src, Params{})
	require.NoError(t, err)
	before := primaryHits.Load()

	// The breaker opened on the first logical failure; the next fetch must
	// not touch the primary at all.
	_, prov, err := c.Fetch(context.Background(), src, Params{})
	require.NoError(t, err)
	assert.Equal(t, model.TierBackup, prov.Tier)
	assert.Equal(t, before, primaryHits.Load())
}

func TestFetch_NoEndpoints(t *testing.T) {
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts())

	_, _, err := c.Fetch(context.Background(), Source{ID: "empty"}, Params{})
	assert.ErrorIs(t, err, ErrAllEndpointsFailed)
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(jsonHandler([]string{"ok"}))
	defer srv.Close()

	src := testSource(srv.URL)
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts(), src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Fetch(ctx, src, Params{})
	assert.Error(t, err)
}

func TestParams_CacheKey(t *testing.T) {
	a := Params{Company: "Tesla", State: "CA", Year: 2023}
	b := Params{Company: "Tesla", State: "CA", Year: 2023}
	c := Params{Company: "Tesla", State: "NV", Year: 2023}

	assert.Equal(t, a.CacheKey("src"), b.CacheKey("src"))
	assert.NotEqual(t, a.CacheKey("src"), c.CacheKey("src"))
	assert.NotEqual(t, a.CacheKey("src1"), a.CacheKey("src2"))
}

func TestProbe_RecordsEveryEndpoint(t *testing.T) {
	up := httptest.NewServer(jsonHandler(nil))
	defer up.Close()
	down := httptest.NewServer(statusHandler(http.StatusInternalServerError, nil))
	defer down.Close()

	src := testSource(up.URL, down.URL)
	tr := health.NewTracker(3)
	c := NewClient(tr, fastOpts(), src)

	snap := c.Probe(context.Background(), src)
	statuses := snap["test"]
	require.Len(t, statuses, 2)
	assert.NotNil(t, statuses[0].LastSuccessAt)
	assert.Equal(t, 1, statuses[1].ConsecutiveFailures)
}

func TestFetch_RateLimiterDelaysSecondRequest(t *testing.T) {
	srv := httptest.NewServer(jsonHandler([]string{"ok"}))
	defer srv.Close()

	src := testSource(srv.URL)
	tr := health.NewTracker(3)
	opts := fastOpts()
	opts.RateLimit = 20 // 50ms between requests
	opts.RateBurst = 1
	c := NewClient(tr, opts, src)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, _, err := c.Fetch(context.Background(), src, Params{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
