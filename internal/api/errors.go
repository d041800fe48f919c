package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/kjannette/botdash-backend/internal/calc"
	"github.com/kjannette/botdash-backend/internal/external"
	"github.com/kjannette/botdash-backend/internal/models"
	"github.com/kjannette/botdash-backend/internal/repository"
)

type apiError struct {
	Error    string   `json:"error"`
	Details  string   `json:"details,omitempty"`
	Category string   `json:"category,omitempty"`
	Fields   []string `json:"fields,omitempty"`
}

var categoryStatus = map[calc.ErrorCategory]int{
	calc.CategoryValidation:        http.StatusBadRequest,
	calc.CategoryIncompleteHistory: http.StatusConflict,
	calc.CategoryMalformedJSON:     http.StatusUnprocessableEntity,
	calc.CategoryInternal:          http.StatusInternalServerError,
}

var categoryMessage = map[calc.ErrorCategory]string{
	calc.CategoryValidation:        "invalid calculation input",
	calc.CategoryIncompleteHistory: "previous update is incomplete",
	calc.CategoryMalformedJSON:     "previous update record is not valid JSON",
	calc.CategoryInternal:          "calculation failed",
}

// writeCalcError renders a calculation failure with its category and the
// offending fields.
func writeCalcError(w http.ResponseWriter, err error) calc.ErrorCategory {
	cat := calc.Classify(err)
	body := apiError{
		Error:    categoryMessage[cat],
		Details:  err.Error(),
		Category: string(cat),
		Fields:   errorFields(err),
	}
	if cat == calc.CategoryInternal {
		log.WithError(err).Error("calculation failed")
	}
	writeJSON(w, categoryStatus[cat], body)
	return cat
}

func errorFields(err error) []string {
	var ve *calc.ValidationError
	var fe *models.FieldError
	var he *calc.IncompleteHistoryError
	switch {
	case errors.As(err, &ve):
		return []string{ve.Field}
	case errors.As(err, &fe):
		return []string{fe.Field}
	case errors.As(err, &he):
		return he.Missing
	}
	return nil
}

// writeStoreError maps storage and upstream failures.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrVersionConflict),
		errors.Is(err, repository.ErrNotLatest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, external.ErrVisionNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func newUUID() string {
	return uuid.NewString()
}
