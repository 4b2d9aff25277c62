// Package shared holds what the api and admin binaries set up the same way.
package shared

import (
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/message"
	"github.com/trezcool/academia/core/moderation"
	"github.com/trezcool/academia/core/privacy"
	"github.com/trezcool/academia/core/user"
)

// NewValidator returns a validator with every app validator and its english translation registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	privacy.InitValidators(validate, translator)
	moderation.InitValidators(validate, translator)
	message.InitValidators(validate, translator)
	return validate, translator
}
