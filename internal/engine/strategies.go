package engine

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/envoyou/crossval/internal/cache"
	"github.com/envoyou/crossval/internal/fetch"
	"github.com/envoyou/crossval/internal/model"
)

// Strategy is one tier of the acquisition chain. The orchestrator walks an
// ordered strategy list and stops at the first one producing data; each
// returns a (payload, provenance, ok) tuple instead of raising.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, src fetch.Source, p fetch.Params) (any, model.Provenance, bool)
}

// liveFetch runs the resilient fetch client and writes successful non-empty
// payloads back to the cache. An empty payload is a miss, not data: the
// chain falls through so the caller still gets something to reason about.
type liveFetch struct {
	client *fetch.Client
	cache  *cache.TieredCache
}

func (s *liveFetch) Name() string { return "live_fetch" }

func (s *liveFetch) Acquire(ctx context.Context, src fetch.Source, p fetch.Params) (any, model.Provenance, bool) {
	payload, prov, err := s.client.Fetch(ctx, src, p)
	if err != nil {
		if !eris.Is(err, fetch.ErrAllEndpointsFailed) {
			zap.L().Warn("live fetch failed",
				zap.String("source", src.ID),
				zap.Error(err),
			)
		}
		return nil, model.Provenance{}, false
	}
	if payloadEmpty(payload) {
		return nil, model.Provenance{}, false
	}
	s.cache.Put(p.CacheKey(src.ID), payload)
	return payload, prov, true
}

// cacheRead serves previously fetched payloads at whatever tier their age
// dictates.
type cacheRead struct {
	cache *cache.TieredCache
}

func (s *cacheRead) Name() string { return "cache_read" }

func (s *cacheRead) Acquire(_ context.Context, src fetch.Source, p fetch.Params) (any, model.Provenance, bool) {
	payload, tier, ok := s.cache.Get(p.CacheKey(src.ID))
	if !ok || payloadEmpty(payload) {
		return nil, model.Provenance{}, false
	}
	return payload, model.Provenance{Tier: tier}, true
}

// sampleSynthesis fabricates representative data. Always succeeds, which is
// what guarantees the engine never fails a request for upstream
// unavailability.
type sampleSynthesis struct {
	synthesize func(p fetch.Params) any
}

func (s *sampleSynthesis) Name() string { return "sample_synthesis" }

func (s *sampleSynthesis) Acquire(_ context.Context, _ fetch.Source, p fetch.Params) (any, model.Provenance, bool) {
	return s.synthesize(p), model.Provenance{Tier: model.TierSample}, true
}

func payloadEmpty(payload any) bool {
	switch v := payload.(type) {
	case nil:
		return true
	case []model.FacilityRecord:
		return len(v) == 0
	case []model.EmissionsReference:
		return len(v) == 0
	default:
		return false
	}
}

// acquire walks the strategy chain for one source.
func acquire(ctx context.Context, strategies []Strategy, src fetch.Source, p fetch.Params) (any, model.Provenance, string) {
	for _, s := range strategies {
		if payload, prov, ok := s.Acquire(ctx, src, p); ok {
			zap.L().Debug("source acquired",
				zap.String("source", src.ID),
				zap.String("strategy", s.Name()),
				zap.String("tier", string(prov.Tier)),
			)
			return payload, prov, s.Name()
		}
	}
	// Unreachable as long as the chain ends with sampleSynthesis.
	return nil, model.Provenance{Tier: model.TierSample}, "none"
}
