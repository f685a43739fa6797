package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterValidation("clock", validateClock)
	return &Validator{validate: v}
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// validateClock accepts wall-clock values in 24h HH:MM form, the shape
// care windows travel in over the wire.
func validateClock(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	hh, mm := s[:2], s[3:]
	if strings.Trim(hh, "0123456789") != "" || strings.Trim(mm, "0123456789") != "" {
		return false
	}
	h := int(hh[0]-'0')*10 + int(hh[1]-'0')
	m := int(mm[0]-'0')*10 + int(mm[1]-'0')
	return h < 24 && m < 60
}
