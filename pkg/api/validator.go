package api

import (
	"reflect"
	"strings"

	"github.com/LambdaTest/janitor/pkg/core"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const (
	jsonTagName       = "json"
	emptyTagName      = "-"
	subString         = 2
	resourceStateTag  = "resource_state"
	resourceKindTag   = "resource_kind"
	translatorLocale  = "en"
	invalidEnumFormat = "{0} must be a known value"
)

// configureValidator reports json field names in validation errors and registers
// the janitor enum validations.
func configureValidator(validate *validator.Validate) error {
	eng := en.New()
	uni := ut.New(eng, eng)
	trans, _ := uni.GetTranslator(translatorLocale)
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return err
	}
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get(jsonTagName), ",", subString)[0]
		if name == emptyTagName {
			return fld.Name
		}
		return name
	})
	if err := validate.RegisterValidation(resourceStateTag, func(fl validator.FieldLevel) bool {
		return core.ResourceState(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	if err := validate.RegisterValidation(resourceKindTag, func(fl validator.FieldLevel) bool {
		return core.ResourceKind(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	for _, tag := range []string{resourceStateTag, resourceKindTag} {
		if err := registerTranslation(validate, trans, tag); err != nil {
			return err
		}
	}
	return nil
}

func registerTranslation(validate *validator.Validate, trans ut.Translator, tag string) error {
	return validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, invalidEnumFormat, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		})
}
