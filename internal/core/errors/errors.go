package errors

import (
	"fmt"
	"strings"
)

// Error-type identifiers used in HTTP error responses.
const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpValidationError     = "validation_failed"
	HttpInvalidQueryError   = "invalid_query"
	HttpDataSetExistsError  = "data_set_exists"
	HttpDataSetUnknownError = "data_set_unknown"
)

// ErrorResponse is the error response body returned by the service layer.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// ValidationError describes one rejected record field or value.
// A batch is persisted only if it produced zero of these.
type ValidationError struct {
	RecordIndex int
	Field       string
	Message     string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record %d: %s", e.RecordIndex, e.Message)
	}
	return fmt.Sprintf("record %d: field %q: %s", e.RecordIndex, e.Field, e.Message)
}

// BatchValidationError aggregates every violation found in a batch.
// All violations are collected before the batch is rejected, so the caller
// can fix and resubmit the whole batch in one pass.
type BatchValidationError struct {
	Violations []*ValidationError
}

func (e *BatchValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("batch rejected with %d violation(s): %s",
		len(e.Violations), strings.Join(msgs, "; "))
}

// InvalidOperationError reports a collect method applied to incompatible data,
// or a query grouping on two identical keys. Never retried.
type InvalidOperationError struct {
	Operation string
	Message   string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %q: %s", e.Operation, e.Message)
}

// InvalidSortError reports a malformed sort specification.
type InvalidSortError struct {
	Direction string
}

func (e *InvalidSortError) Error() string {
	return fmt.Sprintf("invalid sort direction %q (must be ascending or descending)", e.Direction)
}

// InvalidPeriodBoundaryError indicates corrupted stored period metadata:
// a period-start value that does not satisfy the period's validStart rule.
// Surfaced, never silently corrected.
type InvalidPeriodBoundaryError struct {
	Period string
	Value  string
}

func (e *InvalidPeriodBoundaryError) Error() string {
	return fmt.Sprintf("stored %s start %q is not a valid period boundary", e.Period, e.Value)
}

// DataSetCreationError reports an attempt to create a data set whose
// underlying collection already exists.
type DataSetCreationError struct {
	DataSet string
}

func (e *DataSetCreationError) Error() string {
	return fmt.Sprintf("data set %q already exists", e.DataSet)
}
