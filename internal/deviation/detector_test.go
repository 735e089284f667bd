package deviation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envoyou/crossval/internal/model"
)

func ref(pollutant string, qty float64) model.EmissionsReference {
	return model.EmissionsReference{Pollutant: pollutant, Quantity: qty, SourceID: "campd_emissions"}
}

func rep(pollutant string, qty float64) model.ReportedEmission {
	return model.ReportedEmission{Pollutant: pollutant, QuantityTonnes: qty}
}

func TestClassify_Buckets(t *testing.T) {
	d := New(nil, 0)

	// CO2 threshold is 15: buckets at 15, 30, 45.
	tests := []struct {
		pct  float64
		want model.Severity
	}{
		{0, ""},
		{14.99, ""},
		{15, model.SeverityMedium},
		{29.99, model.SeverityMedium},
		{30, model.SeverityHigh},
		{44.99, model.SeverityHigh},
		{45, model.SeverityCritical},
		{100, model.SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.Classify("co2", tt.pct), "pct=%v", tt.pct)
	}
}

func TestClassify_Monotonic(t *testing.T) {
	d := New(nil, 0)
	rank := map[model.Severity]int{"": 0, model.SeverityMedium: 1, model.SeverityHigh: 2, model.SeverityCritical: 3}

	prev := 0
	for pct := 0.0; pct <= 120; pct += 0.5 {
		cur := rank[d.Classify("NOX", pct)]
		require.GreaterOrEqual(t, cur, prev, "severity regressed at pct=%v", pct)
		prev = cur
	}
}

func TestThreshold_FallbackForUnknownPollutant(t *testing.T) {
	d := New(nil, 0)
	assert.Equal(t, 15.0, d.Threshold("CO2"))
	assert.Equal(t, 20.0, d.Threshold("ch4"))
}

func TestDetect_SmallDeviationBelowThreshold(t *testing.T) {
	d := New(nil, 0)

	// 278.5 vs 265.5 is about 4.9 percent, well under the 15 percent CO2
	// threshold.
	res := d.Detect([]model.ReportedEmission{rep("co2", 265.5)}, []model.EmissionsReference{ref("CO2", 278.5)})
	require.Len(t, res.Deviations, 1)

	dev := res.Deviations[0]
	assert.InDelta(t, 4.67, dev.DeviationPct, 0.01)
	assert.Empty(t, dev.Severity)
}

func TestDetect_ExtremeDeviationIsCritical(t *testing.T) {
	d := New(nil, 0)

	res := d.Detect([]model.ReportedEmission{rep("CO2", 50000)}, []model.EmissionsReference{ref("CO2", 500)})
	require.Len(t, res.Deviations, 1)
	assert.Equal(t, model.SeverityCritical, res.Deviations[0].Severity)
}

func TestDetect_AbsoluteDeviation(t *testing.T) {
	d := New(nil, 0)

	// Under-reporting deviates just like over-reporting.
	res := d.Detect([]model.ReportedEmission{rep("CO2", 50)}, []model.EmissionsReference{ref("CO2", 100)})
	require.Len(t, res.Deviations, 1)
	assert.Equal(t, 50.0, res.Deviations[0].DeviationPct)
	assert.Equal(t, model.SeverityCritical, res.Deviations[0].Severity)
}

func TestDetect_ZeroReferenceRecordsNote(t *testing.T) {
	d := New(nil, 0)

	res := d.Detect([]model.ReportedEmission{rep("SO2", 10)}, []model.EmissionsReference{ref("SO2", 0)})
	assert.Empty(t, res.Deviations)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "reference_unavailable")
	assert.Contains(t, res.Notes[0], "SO2")
}

func TestDetect_MissingReferenceSkipped(t *testing.T) {
	d := New(nil, 0)

	res := d.Detect(
		[]model.ReportedEmission{rep("CO2", 100), rep("CH4", 5)},
		[]model.EmissionsReference{ref("CO2", 100)},
	)
	require.Len(t, res.Deviations, 1)
	assert.Equal(t, "CO2", res.Deviations[0].Pollutant)
	assert.Empty(t, res.Notes)
}

func TestDetect_CaseInsensitivePollutants(t *testing.T) {
	d := New(Thresholds{"co2": 10}, 0)

	res := d.Detect([]model.ReportedEmission{rep("Co2", 111)}, []model.EmissionsReference{ref("cO2", 100)})
	require.Len(t, res.Deviations, 1)
	assert.Equal(t, "CO2", res.Deviations[0].Pollutant)
	assert.Equal(t, model.SeverityMedium, res.Deviations[0].Severity)
}
