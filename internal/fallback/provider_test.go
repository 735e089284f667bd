package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envoyou/crossval/internal/matcher"
)

func TestNew_ParsesEmbeddedTemplates(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	require.NotEmpty(t, p.tpl.Industries)
	require.NotEmpty(t, p.tpl.Default.Facilities)
}

func TestFacilities_IndustrySelection(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	tests := []struct {
		company   string
		wantState string
	}{
		{"Acme Manufacturing Holdings", "CA"},
		{"Gulf Coast Energy LLC", "TX"},
		{"Delta Chemical Corp", "LA"},
		{"Demo Corp", "CA"},
	}
	for _, tt := range tests {
		records := p.Facilities(tt.company, "")
		require.NotEmpty(t, records, tt.company)
		assert.Equal(t, tt.wantState, records[0].State, tt.company)
	}
}

func TestFacilities_NamesNeverMatchCompanyTokens(t *testing.T) {
	// Synthesized names stay generic: a sample-only response must score as
	// unmatched, not as a plausible hit.
	p, err := New()
	require.NoError(t, err)
	m := matcher.New(matcher.Options{})

	for _, company := range []string{"Demo Corp", "Acme Manufacturing", "Gulf Energy"} {
		records := p.Facilities(company, "")
		assert.Empty(t, m.Match(company, "", records), company)
	}
}

func TestFacilities_StateOverride(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	records := p.Facilities("Acme Manufacturing", "tx")
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Equal(t, "TX", r.State)
	}

	// Without a caller state the template's own state survives.
	records = p.Facilities("Acme Manufacturing", "")
	require.NotEmpty(t, records)
	assert.Equal(t, "CA", records[0].State)
}

func TestFacilities_TaggedAsSample(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	for _, r := range p.Facilities("Demo Corp", "") {
		assert.Equal(t, SourceID, r.SourceID)
	}
}

func TestReferences_DeterministicOrder(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	refs := p.References("Gulf Coast Energy", "", 2024)
	require.Len(t, refs, 3)
	assert.Equal(t, "CO2", refs[0].Pollutant)
	assert.Equal(t, "NOX", refs[1].Pollutant)
	assert.Equal(t, "SO2", refs[2].Pollutant)

	for _, ref := range refs {
		assert.Equal(t, 2024, ref.Year)
		assert.Equal(t, "tonnes", ref.Unit)
		assert.Equal(t, SourceID, ref.SourceID)
		assert.Positive(t, ref.Quantity)
	}
}

func TestReferences_FacilityIDDefaultsToTemplate(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	refs := p.References("Delta Chemical", "", 2023)
	require.NotEmpty(t, refs)
	assert.Equal(t, "sample-chemical", refs[0].FacilityID)

	refs = p.References("Delta Chemical", "fac-42", 2023)
	require.NotEmpty(t, refs)
	assert.Equal(t, "fac-42", refs[0].FacilityID)
}
