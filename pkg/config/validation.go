package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the configuration for errors using struct tags.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// formatValidationError converts validator errors into a readable message.
func formatValidationError(errs validator.ValidationErrors) error {
	var messages []string
	for _, err := range errs {
		field := strings.ToLower(err.Namespace())
		field = strings.TrimPrefix(field, "config.")

		switch err.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "gt":
			messages = append(messages, fmt.Sprintf("%s must be greater than %s", field, err.Param()))
		case "lte":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, err.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, err.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid (%s)", field, err.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}
