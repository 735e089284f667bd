// Package campd adapts the EPA Clean Air Markets Program Data (CAMPD)
// apportioned-emissions API for the fetch client. CAMPD supplies the
// quantitative reference side of cross-validation: annual CO2/NOx/SO2 mass
// per facility.
package campd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/envoyou/crossval/internal/fetch"
	"github.com/envoyou/crossval/internal/health"
	"github.com/envoyou/crossval/internal/model"
)

// SourceID identifies the quantitative reference source.
const SourceID = "campd_emissions"

// DefaultPrimaryEndpoints are the CAMPD API mirrors tried first.
func DefaultPrimaryEndpoints() []string {
	return []string{
		"https://api.epa.gov/easey/emissions-mgmt/emissions/apportioned/annual",
	}
}

// DefaultBackupEndpoints are tried after every primary is exhausted.
func DefaultBackupEndpoints() []string {
	return []string{
		"https://api.epa.gov/easey/streaming-services/emissions/apportioned/annual",
	}
}

// DefaultYear is used when the caller supplies no reference year; CAMPD's
// latest complete reporting year.
const DefaultYear = 2023

// NewSource builds the fetch source from endpoint base URLs. Empty slices
// fall back to the defaults.
func NewSource(primary, backup []string) fetch.Source {
	if len(primary) == 0 {
		primary = DefaultPrimaryEndpoints()
	}
	if len(backup) == 0 {
		backup = DefaultBackupEndpoints()
	}

	endpoints := make([]health.Endpoint, 0, len(primary)+len(backup))
	for _, u := range primary {
		endpoints = append(endpoints, health.Endpoint{SourceID: SourceID, URL: u, Role: health.RolePrimary})
	}
	for i, u := range backup {
		endpoints = append(endpoints, health.Endpoint{SourceID: SourceID, URL: u, Role: health.RoleBackup, BackupIndex: i})
	}

	return fetch.Source{
		ID:        SourceID,
		Endpoints: endpoints,
		BuildURL:  BuildURL,
		Decode:    Decode,
	}
}

// BuildURL renders an apportioned-annual query, keyed by facility ID when
// the caller supplied a mapping, otherwise by state and year.
func BuildURL(base string, p fetch.Params) string {
	q := url.Values{}
	year := p.Year
	if year <= 0 {
		year = DefaultYear
	}
	q.Set("year", strconv.Itoa(year))
	if p.FacilityID != "" {
		q.Set("facilityId", p.FacilityID)
	}
	if p.State != "" {
		q.Set("stateCode", strings.ToUpper(p.State))
	}
	if p.Limit > 0 {
		q.Set("perPage", strconv.Itoa(p.Limit))
		q.Set("page", "1")
	}
	return fmt.Sprintf("%s?%s", strings.TrimRight(base, "/"), q.Encode())
}

// emissionsRow is one CAMPD apportioned-annual record.
type emissionsRow struct {
	FacilityID   json.Number `json:"facilityId"`
	FacilityName string      `json:"facilityName"`
	StateCode    string      `json:"stateCode"`
	Year         int         `json:"year"`
	CO2Mass      *float64    `json:"co2Mass"`
	NOxMass      *float64    `json:"noxMass"`
	SO2Mass      *float64    `json:"so2Mass"`
}

// Decode fans each CAMPD row out into one EmissionsReference per pollutant
// with a reported mass. CAMPD reports short tons; quantities are converted
// to tonnes so they compare directly against caller-reported values.
func Decode(body []byte) (any, error) {
	var rows []emissionsRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, eris.Wrap(err, "campd: unmarshal rows")
	}

	const shortTonToTonne = 0.90718474

	refs := make([]model.EmissionsReference, 0, len(rows)*3)
	for _, row := range rows {
		for _, m := range []struct {
			pollutant string
			mass      *float64
		}{
			{"CO2", row.CO2Mass},
			{"NOX", row.NOxMass},
			{"SO2", row.SO2Mass},
		} {
			if m.mass == nil {
				continue
			}
			refs = append(refs, model.EmissionsReference{
				FacilityID: row.FacilityID.String(),
				Year:       row.Year,
				Pollutant:  m.pollutant,
				Quantity:   *m.mass * shortTonToTonne,
				Unit:       "tonnes",
				SourceID:   SourceID,
			})
		}
	}
	return refs, nil
}
