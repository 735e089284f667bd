package campd

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envoyou/crossval/internal/fetch"
	"github.com/envoyou/crossval/internal/model"
)

func queryOf(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query()
}

func TestBuildURL(t *testing.T) {
	base := "https://api.epa.gov/easey/emissions-mgmt/emissions/apportioned/annual"

	q := queryOf(t, BuildURL(base, fetch.Params{State: "ca", Year: 2022, Limit: 100}))
	assert.Equal(t, "2022", q.Get("year"))
	assert.Equal(t, "CA", q.Get("stateCode"))
	assert.Equal(t, "100", q.Get("perPage"))
	assert.Equal(t, "1", q.Get("page"))
	assert.Empty(t, q.Get("facilityId"))

	q = queryOf(t, BuildURL(base, fetch.Params{FacilityID: "3"}))
	assert.Equal(t, "3", q.Get("facilityId"))
	assert.Equal(t, "2023", q.Get("year"), "missing year falls back to the latest complete reporting year")
	assert.Empty(t, q.Get("stateCode"))
}

func TestDecode_FansOutPerPollutant(t *testing.T) {
	body := []byte(`[
		{"facilityId": 3, "facilityName": "Barry", "stateCode": "AL", "year": 2023,
		 "co2Mass": 1000000.0, "noxMass": 500.0, "so2Mass": 120.5}
	]`)

	payload, err := Decode(body)
	require.NoError(t, err)
	refs, ok := payload.([]model.EmissionsReference)
	require.True(t, ok)
	require.Len(t, refs, 3)

	const shortTonToTonne = 0.90718474
	assert.Equal(t, "CO2", refs[0].Pollutant)
	assert.InDelta(t, 1000000*shortTonToTonne, refs[0].Quantity, 0.01)
	assert.Equal(t, "NOX", refs[1].Pollutant)
	assert.InDelta(t, 500*shortTonToTonne, refs[1].Quantity, 0.001)
	assert.Equal(t, "SO2", refs[2].Pollutant)

	for _, ref := range refs {
		assert.Equal(t, "3", ref.FacilityID)
		assert.Equal(t, 2023, ref.Year)
		assert.Equal(t, "tonnes", ref.Unit)
		assert.Equal(t, SourceID, ref.SourceID)
	}
}

func TestDecode_SkipsMissingMasses(t *testing.T) {
	body := []byte(`[
		{"facilityId": 7, "year": 2023, "co2Mass": 100.0},
		{"facilityId": 8, "year": 2023}
	]`)

	payload, err := Decode(body)
	require.NoError(t, err)
	refs := payload.([]model.EmissionsReference)
	require.Len(t, refs, 1)
	assert.Equal(t, "7", refs[0].FacilityID)
	assert.Equal(t, "CO2", refs[0].Pollutant)
}

func TestDecode_ZeroMassIsKept(t *testing.T) {
	// An explicit zero is data ("the unit emitted nothing"), unlike an
	// absent field.
	body := []byte(`[{"facilityId": 7, "year": 2023, "so2Mass": 0.0}]`)

	payload, err := Decode(body)
	require.NoError(t, err)
	refs := payload.([]model.EmissionsReference)
	require.Len(t, refs, 1)
	assert.Equal(t, 0.0, refs[0].Quantity)
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{"error": "unexpected shape"}`))
	assert.Error(t, err)
}

func TestNewSource_Defaults(t *testing.T) {
	src := NewSource(nil, nil)
	assert.Equal(t, SourceID, src.ID)
	require.Len(t, src.Endpoints, 2)
	assert.Contains(t, src.Endpoints[0].URL, "emissions-mgmt")
	assert.Contains(t, src.Endpoints[1].URL, "streaming-services")
}
