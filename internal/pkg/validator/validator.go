package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

var (
	serviceCodeRe = regexp.MustCompile(`^[a-z0-9_]{1,16}$`)
	countryCodeRe = regexp.MustCompile(`^[0-9]{1,3}$`)
)

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Provider service code, e.g. "wa", "tg", "ot"
	validate.RegisterValidation("service_code", func(fl validator.FieldLevel) bool {
		return serviceCodeRe.MatchString(fl.Field().String())
	})

	// Provider numeric country id; empty means provider default. Not named
	// country_code: validator/v10 bakes that in as an ISO 3166 alias.
	validate.RegisterValidation("provider_country", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		return v == "" || countryCodeRe.MatchString(v)
	})

	validate.RegisterValidation("gateway", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "stripe", "mercadopago", "internal":
			return true
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range verrs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "email":
			errors[field] = "Invalid email format"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "uuid":
			errors[field] = "Invalid UUID"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "oneof":
			errors[field] = "Must be one of: " + err.Param()
		case "service_code":
			errors[field] = "Invalid service code"
		case "provider_country":
			errors[field] = "Invalid country code, expected a numeric provider country id"
		case "gateway":
			errors[field] = "Invalid gateway. Must be: stripe, mercadopago, or internal"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}
