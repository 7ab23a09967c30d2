// Package errors defines the typed error catalogue of the rollup core.
//
// Every failure surfaced to callers carries a stable machine-readable code
// (ROLLUP_<CATEGORY>_<NAME>), a default HTTP status, a retryability flag,
// and a severity. The executor and the queue dispatch on these attributes
// to decide retry versus terminate.
package errors

import (
	stderrors "errors"
	"fmt"
)

// RollupError is the typed error carried through the rollup core.
type RollupError struct {
	Code              Code
	Category          Category
	Message           string
	HTTPStatus        int
	Retryable         bool
	Severity          Severity
	RecommendedAction string
	Details           map[string]interface{}
	cause             error
}

// New creates a RollupError for a catalogued code.
func New(code Code, message string) *RollupError {
	meta, ok := catalog[code]
	if !ok {
		// Uncatalogued codes are a programming error; treat as internal.
		meta = codeMeta{CategoryInfra, 500, false, SeverityError, ""}
	}
	return &RollupError{
		Code:              code,
		Category:          meta.category,
		Message:           message,
		HTTPStatus:        meta.httpStatus,
		Retryable:         meta.retryable,
		Severity:          meta.severity,
		RecommendedAction: meta.action,
	}
}

// Newf creates a RollupError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *RollupError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a RollupError preserving the underlying cause.
func Wrap(code Code, cause error, message string) *RollupError {
	e := New(code, message)
	e.cause = cause
	return e
}

// Wrapf creates a RollupError with a formatted message and a cause.
func Wrapf(code Code, cause error, format string, args ...interface{}) *RollupError {
	return Wrap(code, cause, fmt.Sprintf(format, args...))
}

// WithDetail attaches a key/value detail and returns the error for chaining.
func (e *RollupError) WithDetail(key string, value interface{}) *RollupError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface.
func (e *RollupError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause chain.
func (e *RollupError) Unwrap() error {
	return e.cause
}

// Is matches two RollupErrors by code, enabling errors.Is with a sentinel
// created via New(code, "").
func (e *RollupError) Is(target error) bool {
	t, ok := target.(*RollupError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// RetryAfterSeconds returns the retry-after hint, 0 when absent.
func (e *RollupError) RetryAfterSeconds() int {
	if e.Details == nil {
		return 0
	}
	if v, ok := e.Details["retryAfterSeconds"].(int); ok {
		return v
	}
	return 0
}

// As extracts a *RollupError from an error chain.
func As(err error) (*RollupError, bool) {
	var re *RollupError
	if stderrors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// CodeOf returns the code of err, or empty when err is not a RollupError.
func CodeOf(err error) Code {
	if re, ok := As(err); ok {
		return re.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err may be retried. Unknown errors are
// treated as non-retryable; retry decisions must be explicit.
func IsRetryable(err error) bool {
	if re, ok := As(err); ok {
		return re.Retryable
	}
	return false
}

// SeverityOf returns the severity of err, defaulting to error.
func SeverityOf(err error) Severity {
	if re, ok := As(err); ok {
		return re.Severity
	}
	return SeverityError
}
