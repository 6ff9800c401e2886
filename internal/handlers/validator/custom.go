package validator

import (
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	api "github.com/disputeflow/verifier/api/v1"
)

var (
	// transaction and dispute references as issued by the payments platform
	transactionRefRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{3,63}$`)

	allowedContentTypes = map[string]bool{
		"application/pdf": true,
		"image/jpeg":      true,
		"image/png":       true,
		"image/tiff":      true,
	}

	allowedExtensions = map[string]bool{
		".pdf":  true,
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".tif":  true,
		".tiff": true,
	}
)

func transactionRefValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	return transactionRefRegex.MatchString(val)
}

func disputeRefValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Addr().Interface().(*string)
	if !ok {
		return false
	}

	if val == nil {
		return true
	}

	return transactionRefRegex.MatchString(*val)
}

func priorityBandValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	return api.Priority(val).Valid()
}

func stageNameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	return api.Stage(val).Valid()
}

// documentFileNameValidator rejects names that smell like paths and
// extensions the pipeline will never accept anyway.
func documentFileNameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	if val == "" || strings.ContainsAny(val, "/\\") || strings.Contains(val, "..") {
		return false
	}

	return allowedExtensions[strings.ToLower(filepath.Ext(val))]
}

func contentTypeValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(val)
	if err != nil {
		return false
	}

	return allowedContentTypes[strings.ToLower(mediaType)]
}
