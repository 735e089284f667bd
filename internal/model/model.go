// Package model defines the domain types shared across the cross-validation engine.
package model

import "time"

// Tier classifies the provenance and staleness of a payload.
type Tier string

const (
	// TierFresh means data served live from a primary endpoint or a cache
	// entry younger than the fresh boundary.
	TierFresh Tier = "fresh"
	// TierAged means a cache entry older than the fresh boundary but inside
	// the aged boundary.
	TierAged Tier = "aged"
	// TierStale means a cache entry past the aged boundary, served only when
	// stale reads are allowed. Reported externally as "aged".
	TierStale Tier = "stale"
	// TierBackup means data served live from a backup endpoint.
	TierBackup Tier = "backup"
	// TierSample means synthesized representative data, the lowest-trust tier.
	TierSample Tier = "sample"
)

// ResponseTier maps internal tiers onto the external tier vocabulary
// (fresh|aged|backup|sample). Stale cache reads surface as "aged".
func (t Tier) ResponseTier() Tier {
	if t == TierStale {
		return TierAged
	}
	return t
}

// Severity grades validation flags and deviations.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Flag codes attached to validation results.
const (
	FlagNoMatch       = "no_epa_match"
	FlagLowDensity    = "low_match_density"
	FlagStateMismatch = "state_mismatch"
	FlagDeviation     = "quantitative_deviation"
)

// FacilityRecord is one facility row from a registry source. Immutable once
// fetched.
type FacilityRecord struct {
	FacilityName string `json:"facility_name"`
	State        string `json:"state,omitempty"`
	County       string `json:"county,omitempty"`
	City         string `json:"city,omitempty"`
	ExternalID   string `json:"external_id,omitempty"`
	SourceID     string `json:"source_id"`
}

// EmissionsReference is an authoritative pollutant quantity for one facility
// and year. Used only for comparison, never mutated.
type EmissionsReference struct {
	FacilityID string  `json:"facility_id"`
	Year       int     `json:"year"`
	Pollutant  string  `json:"pollutant"`
	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit"`
	SourceID   string  `json:"source_id"`
}

// ReportedEmission is a caller-supplied, unit-normalized pollutant quantity.
type ReportedEmission struct {
	Pollutant      string  `json:"pollutant" validate:"required"`
	QuantityTonnes float64 `json:"quantity_tonnes" validate:"gte=0"`
}

// FacilityMapping short-circuits facility matching when the caller already
// knows which facility it reports for.
type FacilityMapping struct {
	FacilityID string `json:"facility_id" validate:"required"`
}

// ValidateRequest is the engine's input, handed over by the API layer.
type ValidateRequest struct {
	Company         string             `json:"company" validate:"required"`
	State           string             `json:"state,omitempty" validate:"omitempty,len=2,alpha"`
	Year            int                `json:"year,omitempty" validate:"omitempty,gte=1990,lte=2100"`
	Reported        []ReportedEmission `json:"reported" validate:"dive"`
	FacilityMapping *FacilityMapping   `json:"facility_mapping,omitempty"`
}

// ValidationFlag is a structured, severity-tagged data-quality concern.
// Append-only; never mutated after creation.
type ValidationFlag struct {
	Code       string   `json:"code"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Deviation is the comparison of one reported pollutant against its
// authoritative reference. Severity is empty when the deviation sits below
// the pollutant's threshold.
type Deviation struct {
	Pollutant    string   `json:"pollutant"`
	Reported     float64  `json:"reported"`
	Reference    float64  `json:"reference"`
	DeviationPct float64  `json:"deviation_pct"`
	Severity     Severity `json:"severity,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// Provenance records where a payload came from, for confidence scoring.
type Provenance struct {
	Tier Tier `json:"tier"`
	// BackupIndex is which backup endpoint served the data (0 = first
	// backup). Meaningful only when Tier is TierBackup.
	BackupIndex int `json:"backup_index,omitempty"`
	// Endpoint is the URL that served a live fetch, empty otherwise.
	Endpoint string `json:"endpoint,omitempty"`
}

// ValidateResponse is the fully constructed result handed back to the caller
// and to the audit sink. Immutable once returned.
type ValidateResponse struct {
	Matches         []FacilityRecord `json:"matches"`
	MatchCount      int              `json:"match_count"`
	Deviations      []Deviation      `json:"deviations"`
	ConfidenceScore int              `json:"confidence_score"`
	ConfidenceLevel string           `json:"confidence_level"`
	Recommendation  string           `json:"recommendation,omitempty"`
	DataSourceTier  Tier             `json:"data_source_tier"`
	Flags           []ValidationFlag `json:"flags"`
	Notes           string           `json:"notes,omitempty"`
	RequestID       string           `json:"request_id,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
}
