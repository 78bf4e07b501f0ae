// Package errors defines the categorized error taxonomy of the settlement
// pipeline. The orchestrator decides ledger mutation based on these
// categories; the API layer maps them to HTTP responses without exposing
// underlying causes (RPC errors, key errors) to clients.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryConnectivity represents chain node reachability errors
	CategoryConnectivity ErrorCategory = "connectivity"
	// CategoryContract represents contract binding errors
	CategoryContract ErrorCategory = "contract"
	// CategorySubmission represents signing/broadcast errors
	CategorySubmission ErrorCategory = "submission"
	// CategoryValidation represents input validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryLedger represents ledger store errors
	CategoryLedger ErrorCategory = "ledger"
	// CategoryConflict represents conflicting in-flight operations
	CategoryConflict ErrorCategory = "conflict"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents everything else (5xx)
	CategorySystem ErrorCategory = "system"
)

// SettlementError represents an error with category, stable code and cause
type SettlementError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *SettlementError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *SettlementError) Unwrap() error {
	return e.Cause
}

// NewConnectivityError indicates the chain node cannot be reached at all.
// Fatal for a settlement cycle; no partial effect.
func NewConnectivityError(endpoint string, cause error) *SettlementError {
	return &SettlementError{
		Category:   CategoryConnectivity,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "CONNECTIVITY_ERROR",
		Message:    "cannot reach blockchain node",
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
		Cause: cause,
	}
}

// NewContractLoadError indicates the ABI artifact is missing or the contract
// address is malformed.
func NewContractLoadError(reason string, cause error) *SettlementError {
	return &SettlementError{
		Category:   CategoryContract,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "CONTRACT_LOAD_ERROR",
		Message:    fmt.Sprintf("failed to load reward token contract: %s", reason),
		Cause:      cause,
	}
}

// NewContractUnavailableError indicates the client is in degraded mode: no
// contract binding, submission calls fail fast.
func NewContractUnavailableError() *SettlementError {
	return &SettlementError{
		Category:   CategoryContract,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "CONTRACT_UNAVAILABLE",
		Message:    "reward token contract is not loaded",
	}
}

// NewInvalidAddressError indicates a wallet address failed validation.
// Non-fatal for a cycle; the entry is excluded from the batch.
func NewInvalidAddressError(address string) *SettlementError {
	return &SettlementError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_ADDRESS",
		Message:    fmt.Sprintf("invalid wallet address: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewSubmissionError indicates signing or broadcast failed. Fatal for the
// cycle; the ledger must stay untouched.
func NewSubmissionError(operation string, cause error) *SettlementError {
	return &SettlementError{
		Category:   CategorySubmission,
		StatusCode: http.StatusBadGateway,
		Code:       "SUBMISSION_ERROR",
		Message:    fmt.Sprintf("transaction submission failed during %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// NewBalanceQueryError indicates the contract balance view could not be read.
// Callers must not treat this as a zero balance.
func NewBalanceQueryError(address string, cause error) *SettlementError {
	return &SettlementError{
		Category:   CategorySystem,
		StatusCode: http.StatusBadGateway,
		Code:       "BALANCE_QUERY_FAILED",
		Message:    "failed to query on-chain balance",
		Details: map[string]interface{}{
			"address": address,
		},
		Cause: cause,
	}
}

// NewCycleInFlightError indicates another settlement cycle holds the lock.
func NewCycleInFlightError() *SettlementError {
	return &SettlementError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CYCLE_IN_FLIGHT",
		Message:    "a settlement cycle is already in flight",
	}
}

// NewWalletNotSetError indicates the user has not registered a wallet address.
func NewWalletNotSetError(userID string) *SettlementError {
	return &SettlementError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "WALLET_NOT_SET",
		Message:    "no wallet address registered for user",
		Details: map[string]interface{}{
			"userId": userID,
		},
	}
}

// NewInsufficientBalanceError indicates a withdrawal exceeds the available
// minted balance or falls below the configured minimum.
func NewInsufficientBalanceError(reason string) *SettlementError {
	return &SettlementError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INSUFFICIENT_BALANCE",
		Message:    reason,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *SettlementError {
	return &SettlementError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *SettlementError {
	return &SettlementError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewDatabaseError creates a ledger store error
func NewDatabaseError(operation string, cause error) *SettlementError {
	return &SettlementError{
		Category:   CategoryLedger,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *SettlementError {
	return &SettlementError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize wraps an arbitrary error as a SettlementError
func Categorize(err error) *SettlementError {
	if err == nil {
		return nil
	}

	var setErr *SettlementError
	if errors.As(err, &setErr) {
		return setErr
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if setErr := Categorize(err); setErr != nil {
		return setErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries the given stable error code
func IsCode(err error, code string) bool {
	setErr := Categorize(err)
	return setErr != nil && setErr.Code == code
}

// IsRetryable reports whether the failed operation may be retried by the
// caller. Submissions are deliberately excluded: a broadcast that failed
// client-side may still have reached the chain, so re-submitting without an
// idempotency check risks double-spending gas and rewards.
func IsRetryable(err error) bool {
	setErr := Categorize(err)
	if setErr == nil {
		return false
	}

	switch setErr.Category {
	case CategoryConnectivity, CategoryLedger, CategoryConflict:
		return true
	default:
		return false
	}
}
