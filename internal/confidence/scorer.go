// Package confidence turns match results, deviations, and data provenance
// into a single 0-100 score with a categorical level. All rules live in
// lookup tables so the scoring stays declarative and auditable.
package confidence

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/envoyou/crossval/internal/model"
)

// MatchBonus awards points for match density. Applied only when no critical
// flag exists.
type MatchBonus struct {
	MinMatches int
	Bonus      int
}

// Level maps a score floor onto a categorical level with its fixed
// recommendation.
type Level struct {
	MinScore       int
	Name           string
	Recommendation string
}

// Config is the full scoring rule set.
type Config struct {
	// FlagPenalties are subtracted per flag by severity, with the running
	// total clamped at 0 after each subtraction.
	FlagPenalties map[model.Severity]int
	// MatchBonuses are checked highest MinMatches first; the first match
	// wins.
	MatchBonuses []MatchBonus
	// TierPenalties apply once, by the provenance tier of the data that
	// served the request.
	TierPenalties map[model.Tier]int
	// BackupPenaltyFirst and BackupPenaltyLater split the backup tier: the
	// first backup endpoint costs less than later ones.
	BackupPenaltyFirst int
	BackupPenaltyLater int
	// Levels are checked highest MinScore first.
	Levels []Level
}

// DefaultConfig returns the documented scoring tables.
func DefaultConfig() Config {
	return Config{
		FlagPenalties: map[model.Severity]int{
			model.SeverityCritical: 40,
			model.SeverityHigh:     25,
			model.SeverityMedium:   15,
			model.SeverityLow:      5,
		},
		MatchBonuses: []MatchBonus{
			{MinMatches: 5, Bonus: 10},
			{MinMatches: 3, Bonus: 5},
		},
		TierPenalties: map[model.Tier]int{
			model.TierFresh:  0,
			model.TierAged:   5,
			model.TierStale:  10,
			model.TierSample: 20,
		},
		BackupPenaltyFirst: 2,
		BackupPenaltyLater: 5,
		Levels: []Level{
			{MinScore: 80, Name: "high", Recommendation: "Data appears reliable for filing"},
			{MinScore: 60, Name: "medium", Recommendation: "Review flagged items before filing"},
			{MinScore: 0, Name: "low", Recommendation: "Manual verification required"},
		},
	}
}

// ValidateConfig checks a scoring rule set for internal consistency.
func ValidateConfig(c Config) error {
	for sev, p := range c.FlagPenalties {
		if p < 0 {
			return eris.Errorf("confidence: penalty for %s must be >= 0", sev)
		}
	}
	for tier, p := range c.TierPenalties {
		if p < 0 {
			return eris.Errorf("confidence: tier penalty for %s must be >= 0", tier)
		}
	}
	if len(c.Levels) == 0 {
		return eris.New("confidence: at least one level is required")
	}
	for i := 1; i < len(c.Levels); i++ {
		if c.Levels[i].MinScore >= c.Levels[i-1].MinScore {
			return eris.New("confidence: level cut points must be strictly descending")
		}
	}
	if c.Levels[len(c.Levels)-1].MinScore != 0 {
		return eris.New("confidence: lowest level must start at 0")
	}
	return nil
}

// Scorer applies the rule tables.
type Scorer struct {
	cfg Config
}

// New creates a scorer. A zero config uses the defaults; bonus and level
// tables are kept sorted so lookup order never depends on config order.
func New(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.FlagPenalties == nil {
		cfg.FlagPenalties = def.FlagPenalties
	}
	if cfg.MatchBonuses == nil {
		cfg.MatchBonuses = def.MatchBonuses
	}
	if cfg.TierPenalties == nil {
		cfg.TierPenalties = def.TierPenalties
	}
	if cfg.BackupPenaltyFirst == 0 {
		cfg.BackupPenaltyFirst = def.BackupPenaltyFirst
	}
	if cfg.BackupPenaltyLater == 0 {
		cfg.BackupPenaltyLater = def.BackupPenaltyLater
	}
	if cfg.Levels == nil {
		cfg.Levels = def.Levels
	}
	sort.Slice(cfg.MatchBonuses, func(i, j int) bool {
		return cfg.MatchBonuses[i].MinMatches > cfg.MatchBonuses[j].MinMatches
	})
	sort.Slice(cfg.Levels, func(i, j int) bool {
		return cfg.Levels[i].MinScore > cfg.Levels[j].MinScore
	})
	return &Scorer{cfg: cfg}
}

// Score starts at 100 and applies, in order: per-flag severity penalties
// (clamped at 0 after each subtraction), the match-count bonus (withheld
// when any critical flag exists), and the data-provenance penalty. The final
// score is clamped to [0,100].
func (s *Scorer) Score(matchCount int, flags []model.ValidationFlag, prov model.Provenance) (int, Level) {
	score := 100
	hasCritical := false

	for _, f := range flags {
		if f.Severity == model.SeverityCritical {
			hasCritical = true
		}
		score -= s.cfg.FlagPenalties[f.Severity]
		if score < 0 {
			score = 0
		}
	}

	if !hasCritical {
		for _, b := range s.cfg.MatchBonuses {
			if matchCount >= b.MinMatches {
				score += b.Bonus
				break
			}
		}
	}

	score -= s.tierPenalty(prov)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return score, s.levelFor(score)
}

// Worse returns the lower-trust of two provenances, judged by tier penalty.
// When a request mixes data served from different tiers, the response tier
// reports the worse one.
func (s *Scorer) Worse(a, b model.Provenance) model.Provenance {
	if s.tierPenalty(b) > s.tierPenalty(a) {
		return b
	}
	return a
}

func (s *Scorer) tierPenalty(prov model.Provenance) int {
	if prov.Tier == model.TierBackup {
		if prov.BackupIndex == 0 {
			return s.cfg.BackupPenaltyFirst
		}
		return s.cfg.BackupPenaltyLater
	}
	return s.cfg.TierPenalties[prov.Tier]
}

func (s *Scorer) levelFor(score int) Level {
	for _, l := range s.cfg.Levels {
		if score >= l.MinScore {
			return l
		}
	}
	return s.cfg.Levels[len(s.cfg.Levels)-1]
}
