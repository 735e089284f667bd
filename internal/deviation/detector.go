// Package deviation compares reported pollutant quantities against
// authoritative references and classifies deviations by severity.
package deviation

import (
	"fmt"
	"math"
	"strings"

	"github.com/envoyou/crossval/internal/model"
)

// Thresholds maps an uppercased pollutant to the deviation percentage at
// which flagging starts. Buckets derive from the threshold t: below t no
// flag, [t,2t) medium, [2t,3t) high, >= 3t critical.
type Thresholds map[string]float64

// DefaultThresholds returns the documented per-pollutant defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		"CO2": 15.0,
		"NOX": 20.0,
		"SO2": 25.0,
	}
}

// DefaultFallbackThreshold applies to pollutants without a configured entry.
const DefaultFallbackThreshold = 20.0

// Result is the outcome of one detection pass.
type Result struct {
	// Deviations holds one entry per pollutant present on both sides,
	// including those below threshold (with empty severity).
	Deviations []model.Deviation
	// Notes records skipped comparisons, e.g. a zero reference quantity.
	Notes []string
}

// Detector holds the threshold table.
type Detector struct {
	thresholds Thresholds
	fallback   float64
}

// New creates a detector. Nil thresholds use the defaults.
func New(thresholds Thresholds, fallback float64) *Detector {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	normalized := make(Thresholds, len(thresholds))
	for pollutant, t := range thresholds {
		normalized[strings.ToUpper(pollutant)] = t
	}
	if fallback <= 0 {
		fallback = DefaultFallbackThreshold
	}
	return &Detector{thresholds: normalized, fallback: fallback}
}

// Threshold returns the flagging threshold for a pollutant.
func (d *Detector) Threshold(pollutant string) float64 {
	if t, ok := d.thresholds[strings.ToUpper(pollutant)]; ok {
		return t
	}
	return d.fallback
}

// Classify maps a deviation percentage onto a severity for the pollutant's
// threshold. Empty severity means the deviation is below threshold. The
// result is a non-decreasing step function of the percentage.
func (d *Detector) Classify(pollutant string, deviationPct float64) model.Severity {
	t := d.Threshold(pollutant)
	switch {
	case deviationPct >= 3*t:
		return model.SeverityCritical
	case deviationPct >= 2*t:
		return model.SeverityHigh
	case deviationPct >= t:
		return model.SeverityMedium
	default:
		return ""
	}
}

// Detect compares every reported pollutant that also appears in the
// reference set. Missing reference pollutants are silently skipped; a zero
// reference quantity is recorded as a note, never an error.
func (d *Detector) Detect(reported []model.ReportedEmission, refs []model.EmissionsReference) Result {
	byPollutant := make(map[string]model.EmissionsReference, len(refs))
	for _, ref := range refs {
		byPollutant[strings.ToUpper(ref.Pollutant)] = ref
	}

	var res Result
	for _, rep := range reported {
		key := strings.ToUpper(rep.Pollutant)
		ref, ok := byPollutant[key]
		if !ok {
			continue
		}
		if ref.Quantity == 0 {
			res.Notes = append(res.Notes,
				fmt.Sprintf("reference_unavailable: %s reference quantity is zero", key))
			continue
		}

		pct := math.Abs(rep.QuantityTonnes-ref.Quantity) / ref.Quantity * 100
		res.Deviations = append(res.Deviations, model.Deviation{
			Pollutant:    key,
			Reported:     rep.QuantityTonnes,
			Reference:    ref.Quantity,
			DeviationPct: round2(pct),
			Severity:     d.Classify(key, pct),
			Source:       ref.SourceID,
		})
	}
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
