package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validRequest() ValidateRequest {
	return ValidateRequest{
		Company: "Tesla Inc",
		State:   "CA",
		Year:    2023,
		Reported: []ReportedEmission{
			{Pollutant: "CO2", QuantityTonnes: 265.5},
		},
	}
}

func TestValidateInput_Valid(t *testing.T) {
	req := validRequest()
	assert.NoError(t, req.ValidateInput())
}

func TestValidateInput_MinimalRequest(t *testing.T) {
	req := ValidateRequest{Company: "Tesla"}
	assert.NoError(t, req.ValidateInput())
}

func TestValidateInput_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ValidateRequest)
	}{
		{"empty company", func(r *ValidateRequest) { r.Company = "" }},
		{"whitespace company", func(r *ValidateRequest) { r.Company = "   " }},
		{"one-letter state", func(r *ValidateRequest) { r.State = "C" }},
		{"three-letter state", func(r *ValidateRequest) { r.State = "CAL" }},
		{"numeric state", func(r *ValidateRequest) { r.State = "12" }},
		{"year too early", func(r *ValidateRequest) { r.Year = 1970 }},
		{"year too late", func(r *ValidateRequest) { r.Year = 2200 }},
		{"negative quantity", func(r *ValidateRequest) {
			r.Reported = []ReportedEmission{{Pollutant: "CO2", QuantityTonnes: -1}}
		}},
		{"missing pollutant", func(r *ValidateRequest) {
			r.Reported = []ReportedEmission{{QuantityTonnes: 10}}
		}},
		{"empty mapping id", func(r *ValidateRequest) {
			r.FacilityMapping = &FacilityMapping{}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			assert.Error(t, req.ValidateInput())
		})
	}
}

func TestResponseTier(t *testing.T) {
	assert.Equal(t, TierAged, TierStale.ResponseTier())
	for _, tier := range []Tier{TierFresh, TierAged, TierBackup, TierSample} {
		assert.Equal(t, tier, tier.ResponseTier())
	}
}
