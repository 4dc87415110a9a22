package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const maxPathLength = 2048

// InputValidator validates rule drafts, patches and resolve paths
type InputValidator struct {
	validate          *validator.Validate
	dangerousPatterns []*regexp.Regexp
}

// NewInputValidator creates a new input validator with the redirect_type tag registered
func NewInputValidator() *InputValidator {
	v := validator.New()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("redirect_type", validateRedirectType)

	return &InputValidator{
		validate: v,
		dangerousPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)vbscript:`),
			regexp.MustCompile(`(?i)data:text/html`),
		},
	}
}

// NewValidator creates a new input validator instance
func NewValidator() Validator {
	return NewInputValidator()
}

func validateRedirectType(fl validator.FieldLevel) bool {
	return RedirectType(fl.Field().String()).IsValid()
}

// ValidateDraft validates a normalized rule draft
func (v *InputValidator) ValidateDraft(draft *RuleDraft) error {
	if draft == nil {
		return NewAppError(ErrValidationFailed, "Rule cannot be nil", 422, nil)
	}

	if err := v.validate.Struct(draft); err != nil {
		return formatValidationError(err)
	}

	if v.containsDangerousPatterns(draft.Destination) {
		return NewAppError(ErrValidationFailed, "Destination contains potentially dangerous content", 422, map[string]any{"field": "destination"})
	}

	return nil
}

// ValidatePatch validates the fields present in a partial update
func (v *InputValidator) ValidatePatch(patch *RulePatch) error {
	if patch == nil {
		return NewAppError(ErrValidationFailed, "Patch cannot be nil", 422, nil)
	}

	if err := v.validate.Struct(patch); err != nil {
		return formatValidationError(err)
	}

	if patch.Destination != nil && v.containsDangerousPatterns(*patch.Destination) {
		return NewAppError(ErrValidationFailed, "Destination contains potentially dangerous content", 422, map[string]any{"field": "destination"})
	}

	return nil
}

// ValidatePath validates a path submitted for resolution
func (v *InputValidator) ValidatePath(path string) error {
	if path == "" {
		return NewAppError(ErrValidationFailed, "Path is required", 422, map[string]any{"field": "path"})
	}

	if len(path) > maxPathLength {
		return NewAppError(ErrValidationFailed, fmt.Sprintf("Path too long (max %d characters)", maxPathLength), 422, map[string]any{
			"field":      "path",
			"length":     len(path),
			"max_length": maxPathLength,
		})
	}

	if !utf8.ValidString(path) {
		return NewAppError(ErrValidationFailed, "Path must be valid UTF-8", 422, map[string]any{"field": "path"})
	}

	if strings.ContainsAny(path, "\r\n") {
		return NewAppError(ErrValidationFailed, "Path must not contain line breaks", 422, map[string]any{"field": "path"})
	}

	return nil
}

func (v *InputValidator) containsDangerousPatterns(content string) bool {
	for _, pattern := range v.dangerousPatterns {
		if pattern.MatchString(content) {
			return true
		}
	}
	return false
}

// formatValidationError converts validator errors into a 422 AppError listing each field
func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return NewAppErrorWithCause(ErrValidationFailed, "Validation failed", 422, err, nil)
	}

	var messages []string
	fields := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := strings.ToLower(e.Field())
		fields = append(fields, field)
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s characters", field, e.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, e.Param()))
		case "redirect_type":
			messages = append(messages, fmt.Sprintf("%s must be one of: 301 302 307 308", field))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, e.Tag()))
		}
	}

	return NewAppError(ErrValidationFailed, strings.Join(messages, "; "), 422, map[string]any{"fields": fields})
}
