package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDatasetNotFound is returned when no candidate file exists for a dataset request.
var ErrDatasetNotFound = errors.New("dataset not found")

// ValidationError represents a malformed or out-of-range request parameter.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// Invalid builds a ValidationError for field with a formatted message.
func Invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DataGapError reports a period or dataset outside the available coverage.
type DataGapError struct {
	Dataset string
	Period  string
}

func (e *DataGapError) Error() string {
	if e.Period == "" {
		return fmt.Sprintf("%s not available", e.Dataset)
	}
	return fmt.Sprintf("period %s not available in %s dataset", e.Period, e.Dataset)
}

// IsTransient returns false; coverage does not change between retries.
func (e *DataGapError) IsTransient() bool {
	return false
}

// EmptyResultError reports a selection that matched no usable data.
type EmptyResultError struct {
	Message string
}

func (e *EmptyResultError) Error() string {
	return e.Message
}

// DatasetNotFoundError carries the candidates tried by the locator.
type DatasetNotFoundError struct {
	Dataset    string
	Candidates []string
}

func (e *DatasetNotFoundError) Error() string {
	return fmt.Sprintf("dataset not found for %s (tried %s)", e.Dataset, strings.Join(e.Candidates, ", "))
}

func (e *DatasetNotFoundError) Unwrap() error {
	return ErrDatasetNotFound
}

// NotFoundError represents a missing repository record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IsTransient returns false as not found errors are permanent
func (e *NotFoundError) IsTransient() bool {
	return false
}
