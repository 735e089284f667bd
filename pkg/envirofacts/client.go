// Package envirofacts adapts the EPA Envirofacts efservice facility registry
// for the fetch client: URL construction and row decoding for TRI facility
// queries.
package envirofacts

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/envoyou/crossval/internal/fetch"
	"github.com/envoyou/crossval/internal/health"
	"github.com/envoyou/crossval/internal/model"
)

// SourceID identifies the facility registry source.
const SourceID = "epa_facilities"

// DefaultPrimaryEndpoints are the Envirofacts mirrors tried first.
func DefaultPrimaryEndpoints() []string {
	return []string{
		"https://data.epa.gov/efservice",
		"https://enviro.epa.gov/efservice",
	}
}

// DefaultBackupEndpoints are tried after every primary is exhausted.
func DefaultBackupEndpoints() []string {
	return []string{
		"https://echo.epa.gov/efservice",
		"https://www3.epa.gov/efservice",
	}
}

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

// BuildURL renders an efservice TRI facility query. efservice encodes
// filters as path segments:
//
//	/tri_facility/PRIMARY_NAME/CONTAINING/{company}/JSON
//	/tri_facility/STATE_ABBR/{state}/PRIMARY_NAME/CONTAINING/{company}/JSON
func BuildURL(base string, p fetch.Params) string {
	base = strings.TrimRight(base, "/")
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}
	company := url.PathEscape(strings.TrimSpace(p.Company))
	if p.State != "" {
		return fmt.Sprintf("%s/tri_facility/STATE_ABBR/%s/PRIMARY_NAME/CONTAINING/%s/rows/0:%d/JSON",
			base, url.PathEscape(strings.ToUpper(p.State)), company, limit-1)
	}
	return fmt.Sprintf("%s/tri_facility/PRIMARY_NAME/CONTAINING/%s/rows/0:%d/JSON",
		base, company, limit-1)
}

// facilityRow tolerates the field spellings seen across Envirofacts mirrors.
type facilityRow struct {
	PrimaryName  string `json:"primary_name"`
	FacilityName string `json:"facility_name"`
	StateAbbr    string `json:"state_abbr"`
	StateCode    string `json:"state_code"`
	CountyName   string `json:"county_name"`
	CityName     string `json:"city_name"`
	TRIFID       string `json:"tri_facility_id"`
	RegistryID   string `json:"registry_id"`
}

func (r facilityRow) name() string {
	if r.FacilityName != "" {
		return r.FacilityName
	}
	return r.PrimaryName
}

func (r facilityRow) state() string {
	if r.StateAbbr != "" {
		return r.StateAbbr
	}
	return r.StateCode
}

func (r facilityRow) externalID() string {
	if r.TRIFID != "" {
		return r.TRIFID
	}
	return r.RegistryID
}

// Decode parses an efservice JSON array into facility records. Rows without
// a usable name are dropped.
func Decode(body []byte) (any, error) {
	var rows []facilityRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, eris.Wrap(err, "envirofacts: unmarshal rows")
	}

	records := make([]model.FacilityRecord, 0, len(rows))
	for _, row := range rows {
		name := row.name()
		if name == "" {
			continue
		}
		records = append(records, model.FacilityRecord{
			FacilityName: name,
			State:        strings.ToUpper(row.state()),
			County:       row.CountyName,
			City:         row.CityName,
			ExternalID:   row.externalID(),
			SourceID:     SourceID,
		})
	}
	return records, nil
}
