package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// SupportedCurrencies lists the ISO 4217 codes the platform settles in.
var SupportedCurrencies = map[string]struct{}{
	"KES": {}, "UGX": {}, "TZS": {}, "RWF": {}, "NGN": {}, "GHS": {}, "ETB": {},
	"XOF": {}, "XAF": {}, "ZAR": {}, "EGP": {}, "MWK": {}, "ZMW": {}, "USD": {}, "EUR": {},
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

// FieldError describes a single failed constraint.
type FieldError struct {
	Field string
	Tag   string
}

// ValidationError aggregates every failed field of a struct.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, fmt.Sprintf("Field '%s' failed validation '%s'", f.Field, f.Tag))
	}
	return fmt.Sprintf("validation failed: %v", msgs)
}

// HasTag reports whether any field failed the given tag.
func (e *ValidationError) HasTag(tag string) bool {
	for _, f := range e.Fields {
		if f.Tag == tag {
			return true
		}
	}
	return false
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			out := &ValidationError{}
			for _, e := range validationErrors {
				out.Fields = append(out.Fields, FieldError{Field: e.Field(), Tag: e.Tag()})
			}
			return out
		}
		return err
	}
	return nil
}

func (v *Validator) registerCustomValidations() {
	// Register decimal.Decimal to be validated as float64 for gt/lt checks
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := val.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			return false
		}
		return IsSupportedCurrency(fl.Field().String())
	})
}

// IsSupportedCurrency reports whether code is a currency the ledger accepts.
func IsSupportedCurrency(code string) bool {
	_, ok := SupportedCurrencies[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}
