package preschool

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kidogo/core"
)

var (
	audienceTag  = "audience"
	audienceText = "audience must be one of: all, parents, teachers"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(audienceTag, audienceValidation)
	core.RegisterCustomTranslation(validate, translator, audienceTag, audienceText)
}

// audienceValidation checks that every audience is in Audiences
func audienceValidation(fl validator.FieldLevel) bool {
	audience, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	for _, a := range audience {
		if !core.ContainsString(Audiences, a) {
			return false
		}
	}
	return true
}
