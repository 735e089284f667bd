package model

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateInput checks a request for caller input errors. These are the only
// errors the engine surfaces to the caller; everything upstream degrades
// through the fallback chain instead.
func (r *ValidateRequest) ValidateInput() error {
	if strings.TrimSpace(r.Company) == "" {
		return eris.New("company is required")
	}
	if err := requestValidator.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if eris.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return eris.Errorf("invalid field %s: failed %s", fe.Field(), fe.Tag())
		}
		return eris.Wrap(err, "invalid request")
	}
	return nil
}
