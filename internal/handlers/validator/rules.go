package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func NewSubmitValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("transaction_ref", transactionRefValidator),
		},
		{
			Rule: registerFn("dispute_ref", disputeRefValidator),
		},
		{
			Rule: registerFn("priority_band", priorityBandValidator),
		},
		{
			Rule: registerFn("document_filename", documentFileNameValidator),
		},
		{
			Rule: registerFn("document_content_type", contentTypeValidator),
		},
	}
}

func NewDeadLetterValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("stage_name", stageNameValidator),
		},
	}
}
