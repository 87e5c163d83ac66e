package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is the base interface for all application errors
type AppError interface {
	error
	HTTPStatus() int
	Code() string
}

// NotFoundError represents a URI that does not resolve to a modeled resource
type NotFoundError struct {
	Resource string
	Reason   string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.Reason)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) HTTPStatus() int {
	return http.StatusNotFound
}

func (e *NotFoundError) Code() string {
	return "NOT_FOUND"
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, reason string) *NotFoundError {
	return &NotFoundError{Resource: resource, Reason: reason}
}

// ValidationError represents invalid input
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e *ValidationError) Code() string {
	return "VALIDATION_ERROR"
}

// Fields returns the offending field names
func (e *ValidationError) Fields() []string {
	if e.Field == "" {
		return nil
	}
	return []string{e.Field}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ValidationErrors aggregates several validation failures into one response
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e ValidationErrors) Code() string {
	return "VALIDATION_ERROR"
}

// Fields returns the offending field names in report order
func (e ValidationErrors) Fields() []string {
	var fields []string
	for _, v := range e {
		if v.Field != "" {
			fields = append(fields, v.Field)
		}
	}
	return fields
}

// OrNil returns nil when no failures were collected
func (e ValidationErrors) OrNil() error {
	switch len(e) {
	case 0:
		return nil
	case 1:
		return e[0]
	}
	return e
}

// MethodNotAllowedError represents a verb that the addressed resource kind does not support
type MethodNotAllowedError struct {
	Method   string
	Resource string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method %s not allowed on %s", e.Method, e.Resource)
}

func (e *MethodNotAllowedError) HTTPStatus() int {
	return http.StatusMethodNotAllowed
}

func (e *MethodNotAllowedError) Code() string {
	return "METHOD_NOT_ALLOWED"
}

// NewMethodNotAllowedError creates a new MethodNotAllowedError
func NewMethodNotAllowedError(method, resource string) *MethodNotAllowedError {
	return &MethodNotAllowedError{Method: method, Resource: resource}
}

// TransactionError carries the terminal status and detail reported by the store
type TransactionError struct {
	Status string
	Detail string
}

func (e *TransactionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("transaction %s: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("transaction %s", e.Status)
}

func (e *TransactionError) HTTPStatus() int {
	if e.Status == "try-again" {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (e *TransactionError) Code() string {
	return "TRANSACTION_FAILED"
}

// NewTransactionError creates a new TransactionError
func NewTransactionError(status, detail string) *TransactionError {
	return &TransactionError{Status: status, Detail: detail}
}

// UnavailableError is returned while the replica session is not established
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("service unavailable: %s", e.Reason)
	}
	return "service unavailable"
}

func (e *UnavailableError) HTTPStatus() int {
	return http.StatusServiceUnavailable
}

func (e *UnavailableError) Code() string {
	return "UNAVAILABLE"
}

// NewUnavailableError creates a new UnavailableError
func NewUnavailableError(reason string) *UnavailableError {
	return &UnavailableError{Reason: reason}
}

// TimeoutError is returned when a pending commit does not resolve within the bounded wait
type TimeoutError struct {
	Operation string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s", e.Operation)
}

func (e *TimeoutError) HTTPStatus() int {
	return http.StatusGatewayTimeout
}

func (e *TimeoutError) Code() string {
	return "TIMEOUT"
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation string) *TimeoutError {
	return &TimeoutError{Operation: operation}
}

// InternalError represents unexpected server errors
type InternalError struct {
	Message string
	Cause   error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error: %s (caused by: %v)", e.Message, e.Cause)
	}
	return fmt.Sprintf("internal error: %s", e.Message)
}

func (e *InternalError) HTTPStatus() int {
	return http.StatusInternalServerError
}

func (e *InternalError) Code() string {
	return "INTERNAL_ERROR"
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

// NewInternalError creates a new InternalError
func NewInternalError(message string, cause error) *InternalError {
	return &InternalError{Message: message, Cause: cause}
}

// Helper functions for error checking

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// IsValidation checks if an error is a ValidationError or an aggregate of them
func IsValidation(err error) bool {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return true
	}
	var many ValidationErrors
	return errors.As(err, &many)
}

// IsMethodNotAllowed checks if an error is a MethodNotAllowedError
func IsMethodNotAllowed(err error) bool {
	var notAllowed *MethodNotAllowedError
	return errors.As(err, &notAllowed)
}

// IsTransaction checks if an error is a TransactionError
func IsTransaction(err error) bool {
	var txErr *TransactionError
	return errors.As(err, &txErr)
}

// IsUnavailable checks if an error is an UnavailableError
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}

// GetHTTPStatus returns the HTTP status code for an error
// Returns 500 if the error doesn't implement AppError
func GetHTTPStatus(err error) int {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// GetErrorCode returns the error code for an error
// Returns "UNKNOWN_ERROR" if the error doesn't implement AppError
func GetErrorCode(err error) string {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}
	return "UNKNOWN_ERROR"
}

type fielder interface {
	Fields() []string
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// ToResponse converts an error to an ErrorResponse
func ToResponse(err error) ErrorResponse {
	resp := ErrorResponse{
		Code:    GetErrorCode(err),
		Message: err.Error(),
	}
	var f fielder
	if errors.As(err, &f) {
		resp.Fields = f.Fields()
	}
	return resp
}
