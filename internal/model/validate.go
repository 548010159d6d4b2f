package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		// Report fields by their JSON name.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("sync_status", func(fl validator.FieldLevel) bool {
			return SyncStatus(fl.Field().Int()).IsValid()
		})
		validate = v
	})
	return validate
}

// ValidateRecord checks a Record for constraint violations before insert.
// It returns a *ValidationError if any rules fail, or nil if the record is valid.
func ValidateRecord(r *Record) error {
	if r == nil {
		return &ValidationError{Errors: []FieldError{{Field: "record", Message: "is required"}}}
	}

	var ve ValidationError
	err := recordValidator().Struct(r)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			ve.Errors = append(ve.Errors, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
	} else if err != nil {
		return err
	}

	// Whitespace-only identifiers pass "required" but are useless as keys.
	if r.GroupID != "" && strings.TrimSpace(r.GroupID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "group_id", Message: "must not be blank"})
	}
	if r.RequestID != "" && strings.TrimSpace(r.RequestID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "request_id", Message: "must not be blank"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be %s characters or fewer", fe.Param())
	case "sync_status":
		return fmt.Sprintf("invalid value %v", fe.Value())
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}
