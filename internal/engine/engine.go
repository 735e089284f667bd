// Package engine sequences fetch, match, deviation, and scoring into one
// validation pass and assembles the final result. A request that passes
// input validation always receives a response; upstream trouble shows up in
// the data tier and the score, never as an error.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/envoyou/crossval/internal/audit"
	"github.com/envoyou/crossval/internal/cache"
	"github.com/envoyou/crossval/internal/confidence"
	"github.com/envoyou/crossval/internal/deviation"
	"github.com/envoyou/crossval/internal/fallback"
	"github.com/envoyou/crossval/internal/fetch"
	"github.com/envoyou/crossval/internal/matcher"
	"github.com/envoyou/crossval/internal/model"
)

// ErrInvalidInput marks caller input errors, the only error class Validate
// surfaces.
var ErrInvalidInput = eris.New("invalid input")

// MappingLookup resolves a company name to a known facility ID, short-
// circuiting the matcher when present.
type MappingLookup interface {
	Lookup(company string) (facilityID string, ok bool)
}

// StaticMapping is a MappingLookup over a fixed table, keyed by normalized
// company name.
type StaticMapping map[string]string

func (m StaticMapping) Lookup(company string) (string, bool) {
	id, ok := m[matcher.Normalize(company)]
	return id, ok
}

// Options tunes orchestration behavior.
type Options struct {
	// MinMatches is the match count below which low_match_density fires.
	// Default: 3.
	MinMatches int
	// FetchLimit bounds candidate rows requested per source. Default: 100.
	FetchLimit int
	// Mapping short-circuits matching for known companies. Optional.
	Mapping MappingLookup
}

// Engine owns the per-request state machine. The cache and health tracker it
// holds are shared across concurrent requests; everything else is
// per-request and immutable.
type Engine struct {
	fetcher  *fetch.Client
	cache    *cache.TieredCache
	fallback *fallback.Provider
	matcher  *matcher.Matcher
	detector *deviation.Detector
	scorer   *confidence.Scorer
	sink     audit.Sink

	facilitySrc  fetch.Source
	referenceSrc fetch.Source
	opts         Options
}

// New wires an engine. A nil sink defaults to the no-op sink.
func New(
	fetcher *fetch.Client,
	store *cache.TieredCache,
	provider *fallback.Provider,
	m *matcher.Matcher,
	d *deviation.Detector,
	s *confidence.Scorer,
	sink audit.Sink,
	facilitySrc, referenceSrc fetch.Source,
	opts Options,
) *Engine {
	if opts.MinMatches <= 0 {
		opts.MinMatches = 3
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 100
	}
	if sink == nil {
		sink = audit.Noop{}
	}
	return &Engine{
		fetcher:      fetcher,
		cache:        store,
		fallback:     provider,
		matcher:      m,
		detector:     d,
		scorer:       s,
		sink:         sink,
		facilitySrc:  facilitySrc,
		referenceSrc: referenceSrc,
		opts:         opts,
	}
}

// Validate runs one request through FETCH, MATCH, DEVIATE, SCORE, and
// ASSEMBLE. Only caller input errors are returned; every upstream failure
// degrades through the strategy chain instead.
func (e *Engine) Validate(ctx context.Context, req model.ValidateRequest) (*model.ValidateResponse, error) {
	if err := req.ValidateInput(); err != nil {
		return nil, eris.Wrapf(ErrInvalidInput, "%v", err)
	}

	requestID := uuid.New().String()
	log := zap.L().With(
		zap.String("request_id", requestID),
		zap.String("company", req.Company),
	)

	facilityID, mapped := e.resolveMapping(req)

	params := fetch.Params{
		Company:    strings.TrimSpace(req.Company),
		State:      strings.ToUpper(strings.TrimSpace(req.State)),
		Year:       req.Year,
		FacilityID: facilityID,
		Limit:      e.opts.FetchLimit,
	}

	// FETCH: the two sources have no ordering dependency; run them in
	// parallel and join before matching begins.
	var (
		facilities   []model.FacilityRecord
		facilityProv model.Provenance
		refs         []model.EmissionsReference
		refProv      model.Provenance
	)
	g, gctx := errgroup.WithContext(ctx)
	if !mapped {
		g.Go(func() error {
			payload, prov, strategyName := acquire(gctx, e.facilityStrategies(), e.facilitySrc, params)
			facilities, _ = payload.([]model.FacilityRecord)
			facilityProv = prov
			log.Debug("facility source resolved", zap.String("strategy", strategyName))
			return nil
		})
	}
	g.Go(func() error {
		payload, prov, strategyName := acquire(gctx, e.referenceStrategies(), e.referenceSrc, params)
		refs, _ = payload.([]model.EmissionsReference)
		refProv = prov
		log.Debug("reference source resolved", zap.String("strategy", strategyName))
		return nil
	})
	// Strategies never return errors; the group is used for the join.
	_ = g.Wait()

	// MATCH.
	var matches []matcher.Match
	if mapped {
		matches = []matcher.Match{{
			Facility: model.FacilityRecord{
				FacilityName: req.Company,
				State:        params.State,
				ExternalID:   facilityID,
				SourceID:     "facility_mapping",
			},
			Score: 1.0,
		}}
		facilityProv = refProv
	} else {
		matches = e.matcher.Match(params.Company, params.State, facilities)
	}

	// DEVIATE.
	detection := e.detector.Detect(req.Reported, reduceReferences(refs, facilityID))

	// SCORE + ASSEMBLE.
	flags := e.assembleFlags(matches, detection.Deviations, mapped)
	prov := e.scorer.Worse(facilityProv, refProv)
	score, level := e.scorer.Score(len(matches), flags, prov)

	resp := &model.ValidateResponse{
		Matches:         matcher.Facilities(matches),
		MatchCount:      len(matches),
		Deviations:      detection.Deviations,
		ConfidenceScore: score,
		ConfidenceLevel: level.Name,
		Recommendation:  level.Recommendation,
		DataSourceTier:  prov.Tier.ResponseTier(),
		Flags:           flags,
		Notes:           assembleNotes(detection.Notes, prov),
		RequestID:       requestID,
		GeneratedAt:     time.Now().UTC(),
	}

	log.Info("validation complete",
		zap.Int("match_count", resp.MatchCount),
		zap.Int("confidence_score", resp.ConfidenceScore),
		zap.String("confidence_level", resp.ConfidenceLevel),
		zap.String("data_source_tier", string(resp.DataSourceTier)),
		zap.Int("flag_count", len(resp.Flags)),
	)

	e.auditAsync(req, resp)
	return resp, nil
}

func (e *Engine) resolveMapping(req model.ValidateRequest) (string, bool) {
	if req.FacilityMapping != nil && req.FacilityMapping.FacilityID != "" {
		return req.FacilityMapping.FacilityID, true
	}
	if e.opts.Mapping != nil {
		if id, ok := e.opts.Mapping.Lookup(req.Company); ok {
			return id, true
		}
	}
	return "", false
}

func (e *Engine) facilityStrategies() []Strategy {
	return []Strategy{
		&liveFetch{client: e.fetcher, cache: e.cache},
		&cacheRead{cache: e.cache},
		&sampleSynthesis{synthesize: func(p fetch.Params) any {
			return e.fallback.Facilities(p.Company, p.State)
		}},
	}
}

func (e *Engine) referenceStrategies() []Strategy {
	return []Strategy{
		&liveFetch{client: e.fetcher, cache: e.cache},
		&cacheRead{cache: e.cache},
		&sampleSynthesis{synthesize: func(p fetch.Params) any {
			return e.fallback.References(p.Company, p.FacilityID, p.Year)
		}},
	}
}

// reduceReferences collapses the reference rows to one quantity per
// pollutant: rows for the mapped facility when one is known, otherwise the
// per-pollutant mean across returned rows.
func reduceReferences(refs []model.EmissionsReference, facilityID string) []model.EmissionsReference {
	if len(refs) == 0 {
		return nil
	}

	if facilityID != "" {
		scoped := make([]model.EmissionsReference, 0, len(refs))
		for _, r := range refs {
			if r.FacilityID == facilityID {
				scoped = append(scoped, r)
			}
		}
		if len(scoped) > 0 {
			refs = scoped
		}
	}

	type agg struct {
		ref   model.EmissionsReference
		total float64
		count int
	}
	order := make([]string, 0, 4)
	byPollutant := make(map[string]*agg, 4)
	for _, r := range refs {
		key := strings.ToUpper(r.Pollutant)
		a, ok := byPollutant[key]
		if !ok {
			a = &agg{ref: r}
			byPollutant[key] = a
			order = append(order, key)
		}
		a.total += r.Quantity
		a.count++
	}

	out := make([]model.EmissionsReference, 0, len(order))
	for _, key := range order {
		a := byPollutant[key]
		ref := a.ref
		ref.Quantity = a.total / float64(a.count)
		out = append(out, ref)
	}
	return out
}

func (e *Engine) assembleFlags(matches []matcher.Match, deviations []model.Deviation, mapped bool) []model.ValidationFlag {
	var flags []model.ValidationFlag

	// Match-quality flags only apply when matching actually ran; a caller-
	// supplied mapping is authoritative.
	if !mapped {
		switch {
		case len(matches) == 0:
			flags = append(flags, model.ValidationFlag{
				Code:       model.FlagNoMatch,
				Severity:   model.SeverityCritical,
				Message:    "No registry facilities matched the company name",
				Suggestion: "Verify the company name, check for subsidiaries, or supply a facility mapping",
			})
		case len(matches) < e.opts.MinMatches:
			flags = append(flags, model.ValidationFlag{
				Code:       model.FlagLowDensity,
				Severity:   model.SeverityMedium,
				Message:    fmt.Sprintf("Only %d registry facilities matched (threshold %d)", len(matches), e.opts.MinMatches),
				Suggestion: "Expand search criteria or check additional operating locations",
			})
		}
		if matcher.AnyStateMismatch(matches) {
			flags = append(flags, model.ValidationFlag{
				Code:       model.FlagStateMismatch,
				Severity:   model.SeverityMedium,
				Message:    "One or more matched facilities are registered in a different state",
				Suggestion: "Verify the operational state and facility addresses",
			})
		}
	}

	for _, d := range deviations {
		if d.Severity == "" {
			continue
		}
		flags = append(flags, model.ValidationFlag{
			Code:     model.FlagDeviation,
			Severity: d.Severity,
			Message: fmt.Sprintf("%s deviates %.1f%% from the reference quantity (%.2f vs %.2f tonnes)",
				d.Pollutant, d.DeviationPct, d.Reported, d.Reference),
			Suggestion: "Verify inputs, calculation method, and emission factors",
		})
	}
	return flags
}

func assembleNotes(notes []string, prov model.Provenance) string {
	switch prov.Tier {
	case model.TierSample:
		notes = append(notes, "Representative sample data used; authoritative sources were unavailable")
	case model.TierStale:
		notes = append(notes, "Cached data past the aged boundary was used")
	}
	return strings.Join(notes, "; ")
}

// auditAsync hands the record to the sink without blocking the response.
// Sink failures are logged and swallowed.
func (e *Engine) auditAsync(req model.ValidateRequest, resp *model.ValidateResponse) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		zap.L().Error("audit: marshal request", zap.Error(err))
		return
	}
	respJSON, err := json.Marshal(resp)
	if err != nil {
		zap.L().Error("audit: marshal response", zap.Error(err))
		return
	}

	rec := audit.Record{
		ID:        resp.RequestID,
		Company:   req.Company,
		Request:   reqJSON,
		Response:  respJSON,
		CreatedAt: resp.GeneratedAt,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.sink.Write(ctx, rec); err != nil {
			zap.L().Warn("audit sink write failed", zap.String("request_id", rec.ID), zap.Error(err))
		}
	}()
}
