// Package validator provides struct validation with the agencyhub domain tags.
package validator

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/invoice"
)

// slugRegex validates slugs: lowercase letters, numbers, hyphens.
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// currencyRegex validates ISO 4217 style codes.
var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: %s", e.Field, e.Message)
	}
	return sb.String()
}

// New creates a new Validator with custom validators registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("analysis_kind", validateAnalysisKind)
	_ = v.RegisterValidation("analysis_status", validateAnalysisStatus)
	_ = v.RegisterValidation("invoice_status", validateInvoiceStatus)
	_ = v.RegisterValidation("slug", validateSlug)
	_ = v.RegisterValidation("currency", validateCurrency)

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatErrorMessage(e),
		})
	}
	return result
}

// Empty values pass the custom tags so that 'required' reports them.

func validateAnalysisKind(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || analysis.Kind(value).IsValid()
}

func validateAnalysisStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || analysis.Status(value).IsValid()
}

func validateInvoiceStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || invoice.Status(value).IsValid()
}

func validateSlug(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || slugRegex.MatchString(value)
}

func validateCurrency(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || currencyRegex.MatchString(value)
}

// formatErrorMessage converts validation errors to human-readable messages.
func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", e.Param())
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "analysis_kind":
		return fmt.Sprintf("must be one of: %s", formatKinds())
	case "analysis_status":
		return "must be one of: pending, processing, completed, failed"
	case "invoice_status":
		return "must be one of: open, paid, overdue, void"
	case "slug":
		return "must be a valid slug (lowercase letters, numbers, hyphens only)"
	case "currency":
		return "must be a three letter currency code"
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case, keeping
// acronyms together: AgencyID becomes agency_id.
func toSnakeCase(s string) string {
	runes := []rune(s)
	var result strings.Builder
	for i, r := range runes {
		if i > 0 && isUpper(r) {
			prevLower := !isUpper(runes[i-1])
			nextLower := i+1 < len(runes) && !isUpper(runes[i+1])
			if prevLower || nextLower {
				result.WriteByte('_')
			}
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}

func isUpper(r rune) bool {
	return r >= 'A' && r <= 'Z'
}

func formatKinds() string {
	kinds := analysis.AllKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
