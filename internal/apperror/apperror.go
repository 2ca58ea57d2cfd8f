// Package apperror defines the donation-service error taxonomy and maps it onto HTTP
// status codes and client-facing messages.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidRequest marks client-supplied data that failed validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidSignature marks a webhook whose authenticity could not be established.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrUpstream marks a failed payment-processor call.
	ErrUpstream = errors.New("upstream error")
	// ErrPersistence marks a failed database write.
	ErrPersistence = errors.New("persistence error")
	// ErrNotConfigured marks a missing server-side secret.
	ErrNotConfigured = errors.New("server configuration error")
)

var (
	errRequired          = errors.New("is required")
	errMustBePositive    = errors.New("must be greater than zero")
	errMustBeAbsoluteURL = errors.New("must be an absolute URL")
	errAmountTooLarge    = errors.New("must not exceed 999999.99")
)

var customErrors = map[string]error{
	"CheckoutRequest.CategoryID.required": errRequired,
	"CheckoutRequest.DonorName.required":  errRequired,
	"CheckoutRequest.Amount.gt":           errMustBePositive,
	"CheckoutRequest.Amount.lte":          errAmountTooLarge,
	"CheckoutRequest.SuccessURL.url":      errMustBeAbsoluteURL,
	"CheckoutRequest.CancelURL.url":       errMustBeAbsoluteURL,
}

// RequestError is returned when a donation intent fails validation.
type RequestError struct {
	Message string
	Fields  []map[string]string
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return ErrInvalidRequest
}

// InvalidRequest builds a RequestError, expanding validator errors into field messages.
func InvalidRequest(message string, cause error) *RequestError {
	return &RequestError{Message: message, Fields: CustomValidationError(cause)}
}

// UpstreamError wraps a payment-processor failure with the message safe to return to callers.
type UpstreamError struct {
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// PersistenceError wraps a failed database operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// HTTPStatus maps an error from the taxonomy to the status code surfaced to the caller.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that may be shown to the caller for err.
// Signature failures never leak their detail.
func PublicMessage(err error) string {
	var requestErr *RequestError
	var upstreamErr *UpstreamError
	var persistenceErr *PersistenceError
	switch {
	case errors.As(err, &requestErr):
		return requestErr.Message
	case errors.Is(err, ErrInvalidSignature):
		return "Invalid signature"
	case errors.As(err, &upstreamErr):
		return upstreamErr.Message
	case errors.As(err, &persistenceErr):
		return "failed to " + persistenceErr.Op
	case errors.Is(err, ErrNotConfigured):
		return "Server configuration error"
	default:
		return "Internal server error"
	}
}

// CustomValidationError converts validator errors into a list of {field: message} pairs.
func CustomValidationError(err error) []map[string]string {
	errList := make([]map[string]string, 0)

	var validationErr validator.ValidationErrors
	if errors.As(err, &validationErr) {
		for _, e := range validationErr {
			field := e.StructNamespace()
			key := field + "." + e.Tag()

			errMsg := fmt.Sprintf("%s is invalid", field)
			if v, ok := customErrors[key]; ok {
				errMsg = v.Error()
			}

			errList = append(errList, map[string]string{e.Field(): errMsg})
		}
	}
	return errList
}
