package calc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kjannette/botdash-backend/internal/models"
)

// ValidationError reports malformed or missing calculation input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IncompleteHistoryError reports Vergleich categories whose previous record
// lacks the fields needed for the diff.
type IncompleteHistoryError struct {
	Categories []models.Category
	Missing    []string
}

func (e *IncompleteHistoryError) Error() string {
	cats := make([]string, len(e.Categories))
	for i, c := range e.Categories {
		cats[i] = string(c)
	}
	return fmt.Sprintf("previous update is missing %s (needed for Vergleich on %s)",
		strings.Join(e.Missing, ", "), strings.Join(cats, ", "))
}

// MalformedJSONError reports a serialized side-channel payload that does not parse.
type MalformedJSONError struct {
	Source string
	Err    error
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Source, e.Err)
}

func (e *MalformedJSONError) Unwrap() error { return e.Err }

type ErrorCategory string

const (
	CategoryValidation        ErrorCategory = "validation"
	CategoryIncompleteHistory ErrorCategory = "incomplete_history"
	CategoryMalformedJSON     ErrorCategory = "malformed_json"
	CategoryInternal          ErrorCategory = "internal"
)

// Classify maps an error returned by this package to its response category.
func Classify(err error) ErrorCategory {
	var ve *ValidationError
	var he *IncompleteHistoryError
	var me *MalformedJSONError
	var fe *models.FieldError
	switch {
	case errors.As(err, &ve), errors.As(err, &fe):
		return CategoryValidation
	case errors.As(err, &he):
		return CategoryIncompleteHistory
	case errors.As(err, &me):
		return CategoryMalformedJSON
	}
	return CategoryInternal
}
