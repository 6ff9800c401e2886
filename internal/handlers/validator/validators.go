package validator

import (
	"github.com/go-playground/validator/v10"
)

type ValidationRule struct {
	Rule func(v *validator.Validate)
}

// Validator wraps the actual validator. It registers the custom rule set
// once and turns rule failures into caller-facing messages via Message.
type Validator struct {
	validator *validator.Validate
	rules     []ValidationRule
}

func NewValidator() *Validator {
	v := validator.New()
	return &Validator{validator: v}
}

func (v *Validator) Register(rules ...ValidationRule) {
	for _, validationRule := range rules {
		validationRule.Rule(v.validator)
	}
	v.rules = append(v.rules, rules...)
}

func (v *Validator) Struct(s any) error {
	return v.validator.Struct(s)
}

// Var validates a single value against a tag expression, for inputs that
// arrive as query parameters rather than a struct.
func (v *Validator) Var(field any, tag string) error {
	return v.validator.Var(field, tag)
}
