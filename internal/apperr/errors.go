// Package apperr defines the error taxonomy shared by the triage components.
//
// Every failure that crosses a component boundary is one of the typed errors
// below, so callers can branch with errors.As instead of matching strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// ValidationError means a single input record is structurally unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ServiceContractError means an external service answered outside the agreed
// schema. It is never retried.
type ServiceContractError struct {
	Service string
	Detail  string
	Err     error
}

func (e *ServiceContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s contract violation: %s: %v", e.Service, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s contract violation: %s", e.Service, e.Detail)
}

func (e *ServiceContractError) Unwrap() error { return e.Err }

// ServiceContract builds a ServiceContractError.
func ServiceContract(service, detail string, err error) error {
	return &ServiceContractError{Service: service, Detail: detail, Err: err}
}

// TransientServiceError covers timeouts, rate limits and 5xx answers.
type TransientServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *TransientServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transient failure (status %d): %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s transient failure: %v", e.Service, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// Transient builds a TransientServiceError.
func Transient(service string, statusCode int, err error) error {
	return &TransientServiceError{Service: service, StatusCode: statusCode, Err: err}
}

// PermanentServiceError is a non-retryable external failure that is not a
// contract violation: bad credentials or a request the service rejects.
type PermanentServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *PermanentServiceError) Error() string {
	return fmt.Sprintf("%s rejected request (status %d): %v", e.Service, e.StatusCode, e.Err)
}

func (e *PermanentServiceError) Unwrap() error { return e.Err }

// Permanent builds a PermanentServiceError.
func Permanent(service string, statusCode int, err error) error {
	return &PermanentServiceError{Service: service, StatusCode: statusCode, Err: err}
}

// PreconditionError signals caller misuse.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return "precondition failed: " + e.Reason }

// Precondition builds a PreconditionError.
func Precondition(reason string) error {
	return &PreconditionError{Reason: reason}
}

// NotFoundError means a looked-up resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConfigurationError indicates a deployment defect such as a label without a
// policy template.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error at %s: %s", e.Key, e.Reason)
}

// Configuration builds a ConfigurationError.
func Configuration(key, reason string) error {
	return &ConfigurationError{Key: key, Reason: reason}
}

// AggregationInconsistency is raised when an incrementally maintained snapshot
// diverges from a full recompute over the same corpus.
type AggregationInconsistency struct {
	Detail string
}

func (e *AggregationInconsistency) Error() string {
	return "aggregation inconsistency: " + e.Detail
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTransient reports whether err is a TransientServiceError.
func IsTransient(err error) bool {
	var target *TransientServiceError
	return errors.As(err, &target)
}

// IsContract reports whether err is a ServiceContractError.
func IsContract(err error) bool {
	var target *ServiceContractError
	return errors.As(err, &target)
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var target *PreconditionError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// HTTPStatus maps an error onto the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsPrecondition(err):
		return http.StatusConflict
	case IsContract(err):
		return http.StatusBadGateway
	case IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus classifies a non-2xx HTTP answer: 408, 429 and 5xx are
// transient, everything else is permanent.
func FromStatus(service string, code int, body string) error {
	cause := fmt.Errorf("status %d: %s", code, truncate(body, 512))
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		return Transient(service, code, cause)
	}
	return Permanent(service, code, cause)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
