// Package matcher ranks candidate facility records against a company name.
package matcher

import (
	"sort"
	"strings"

	"github.com/envoyou/crossval/internal/model"
)

// Match is one candidate facility with its token-overlap score.
type Match struct {
	Facility      model.FacilityRecord `json:"facility"`
	Score         float64              `json:"score"`
	StateMismatch bool                 `json:"state_mismatch,omitempty"`
}

// Options configures matching behavior.
type Options struct {
	// MinScore is the token-overlap threshold below which a candidate is
	// dropped. Default: 0.5.
	MinScore float64
	// StatePenalty is subtracted from a candidate's score when the caller
	// supplied a state and the candidate's differs. The candidate stays
	// visible for transparency but sorts lower. Default: 0.2.
	StatePenalty float64
}

// DefaultOptions returns the documented matcher defaults.
func DefaultOptions() Options {
	return Options{MinScore: 0.5, StatePenalty: 0.2}
}

// Matcher scores and ranks facility candidates.
type Matcher struct {
	opts Options
}

// New creates a matcher, filling zero-valued options with defaults.
func New(opts Options) *Matcher {
	def := DefaultOptions()
	if opts.MinScore <= 0 {
		opts.MinScore = def.MinScore
	}
	if opts.StatePenalty <= 0 {
		opts.StatePenalty = def.StatePenalty
	}
	return &Matcher{opts: opts}
}

// Match scores each candidate by the fraction of the company's normalized
// tokens present in the candidate name, applies the state penalty, keeps
// candidates at or above the threshold, and orders by score descending with
// ties broken by state match then name. An empty result is a legitimate
// outcome, not an error.
func (m *Matcher) Match(company, state string, candidates []model.FacilityRecord) []Match {
	companyTokens := Tokens(company)
	if len(companyTokens) == 0 {
		return nil
	}
	state = strings.ToUpper(strings.TrimSpace(state))

	matches := make([]Match, 0, len(candidates))
	for _, cand := range candidates {
		candTokens := Tokens(cand.FacilityName)
		overlap := 0
		for tok := range companyTokens {
			if _, ok := candTokens[tok]; ok {
				overlap++
			}
		}
		score := float64(overlap) / float64(len(companyTokens))
		if score < m.opts.MinScore {
			continue
		}

		mismatch := state != "" && !strings.EqualFold(cand.State, state)
		if mismatch {
			score -= m.opts.StatePenalty
			if score < 0 {
				score = 0
			}
		}

		matches = append(matches, Match{Facility: cand, Score: score, StateMismatch: mismatch})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.StateMismatch != b.StateMismatch {
			return !a.StateMismatch
		}
		return a.Facility.FacilityName < b.Facility.FacilityName
	})
	return matches
}

// Facilities extracts the facility records from a ranked match set.
func Facilities(matches []Match) []model.FacilityRecord {
	out := make([]model.FacilityRecord, len(matches))
	for i, m := range matches {
		out[i] = m.Facility
	}
	return out
}

// AnyStateMismatch reports whether any kept match was penalized for a state
// difference.
func AnyStateMismatch(matches []Match) bool {
	for _, m := range matches {
		if m.StateMismatch {
			return true
		}
	}
	return false
}
