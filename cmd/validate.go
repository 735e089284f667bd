package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/envoyou/crossval/internal/model"
)

var (
	validateCompany    string
	validateState      string
	validateYear       int
	validateFacilityID string
	validateReported   []string
	validateInputPath  string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate one company's reported emissions",
	Long:  "Runs a single validation request and prints the scored response as JSON. Request fields come from flags, or from a JSON file via --input.",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest()
		if err != nil {
			return err
		}

		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		resp, err := env.Engine.Validate(cmd.Context(), req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func buildRequest() (model.ValidateRequest, error) {
	if validateInputPath != "" {
		data, err := os.ReadFile(validateInputPath)
		if err != nil {
			return model.ValidateRequest{}, eris.Wrap(err, "read input file")
		}
		var req model.ValidateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return model.ValidateRequest{}, eris.Wrap(err, "parse input file")
		}
		return req, nil
	}

	req := model.ValidateRequest{
		Company: validateCompany,
		State:   validateState,
		Year:    validateYear,
	}
	if validateFacilityID != "" {
		req.FacilityMapping = &model.FacilityMapping{FacilityID: validateFacilityID}
	}
	for _, spec := range validateReported {
		pollutant, qty, ok := strings.Cut(spec, "=")
		if !ok {
			return model.ValidateRequest{}, eris.Errorf("invalid --reported value %q, want POLLUTANT=TONNES", spec)
		}
		tonnes, err := strconv.ParseFloat(qty, 64)
		if err != nil {
			return model.ValidateRequest{}, eris.Errorf("invalid quantity in --reported value %q", spec)
		}
		req.Reported = append(req.Reported, model.ReportedEmission{
			Pollutant:      strings.ToUpper(strings.TrimSpace(pollutant)),
			QuantityTonnes: tonnes,
		})
	}
	return req, nil
}

func init() {
	validateCmd.Flags().StringVar(&validateCompany, "company", "", "company name (required unless --input)")
	validateCmd.Flags().StringVar(&validateState, "state", "", "two-letter state code")
	validateCmd.Flags().IntVar(&validateYear, "year", 0, "reporting year")
	validateCmd.Flags().StringVar(&validateFacilityID, "facility-id", "", "known facility ID, skips name matching")
	validateCmd.Flags().StringArrayVar(&validateReported, "reported", nil, "reported quantity as POLLUTANT=TONNES, repeatable (e.g. co2=265.5)")
	validateCmd.Flags().StringVar(&validateInputPath, "input", "", "path to a JSON request file")
	rootCmd.AddCommand(validateCmd)
}
