package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for sync and transaction operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Validation errors (4xx equivalent). Rejected before any mutation.
	ErrCodeInvalidArgument       ErrorCode = 1000
	ErrCodeNotFound              ErrorCode = 1001
	ErrCodeInsufficientInventory ErrorCode = 1002
	ErrCodeEmptyTransaction      ErrorCode = 1003
	ErrCodeChecksumFailed        ErrorCode = 1004
	ErrCodeSerialization         ErrorCode = 1005

	// Server errors (5xx equivalent)
	ErrCodeInternal         ErrorCode = 2000
	ErrCodeUnavailable      ErrorCode = 2001
	ErrCodeDurability       ErrorCode = 2002
	ErrCodeActorUnavailable ErrorCode = 2003
	ErrCodeOverloaded       ErrorCode = 2004
	ErrCodePeerUnreachable  ErrorCode = 2005
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                    "OK",
	ErrCodeInvalidArgument:       "INVALID_ARGUMENT",
	ErrCodeNotFound:              "NOT_FOUND",
	ErrCodeInsufficientInventory: "INSUFFICIENT_INVENTORY",
	ErrCodeEmptyTransaction:      "EMPTY_TRANSACTION",
	ErrCodeChecksumFailed:        "CHECKSUM_FAILED",
	ErrCodeSerialization:         "SERIALIZATION_ERROR",
	ErrCodeInternal:              "INTERNAL_ERROR",
	ErrCodeUnavailable:           "SERVICE_UNAVAILABLE",
	ErrCodeDurability:            "DURABILITY_ERROR",
	ErrCodeActorUnavailable:      "ACTOR_UNAVAILABLE",
	ErrCodeOverloaded:            "OVERLOADED",
	ErrCodePeerUnreachable:       "PEER_UNREACHABLE",
}

// String returns the wire name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// SyncError represents a structured error with code and context
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to an HTTP status
func (e *SyncError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeEmptyTransaction, ErrCodeChecksumFailed, ErrCodeSerialization:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInsufficientInventory:
		return http.StatusConflict
	case ErrCodeOverloaded:
		return http.StatusTooManyRequests
	case ErrCodeUnavailable, ErrCodeActorUnavailable, ErrCodePeerUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewSyncError creates a new SyncError
func NewSyncError(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeInvalidArgument, message, cause)
}

func NotFound(resource, id string) *SyncError {
	return NewSyncError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// InsufficientInventory reports a sale line that cannot be covered by the
// piles on hand. Nothing has been written when this is returned.
func InsufficientInventory(productUUID string, requested, available int64) *SyncError {
	return NewSyncError(ErrCodeInsufficientInventory,
		fmt.Sprintf("insufficient inventory for product %s: requested %d, available %d", productUUID, requested, available), nil).
		WithDetail("product", productUUID).
		WithDetail("requested", requested).
		WithDetail("available", available)
}

func EmptyTransaction() *SyncError {
	return NewSyncError(ErrCodeEmptyTransaction, "transaction has no items", nil)
}

func ChecksumFailed(recordID, expected, actual string) *SyncError {
	return NewSyncError(ErrCodeChecksumFailed, fmt.Sprintf("checksum validation failed for %s: expected %s, got %s", recordID, expected, actual), nil).
		WithDetail("record_id", recordID).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func Serialization(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeSerialization, message, cause)
}

func InternalError(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeUnavailable, message, cause)
}

func Durability(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeDurability, message, cause)
}

func ActorUnavailable() *SyncError {
	return NewSyncError(ErrCodeActorUnavailable, "sync actor unavailable", nil)
}

func Overloaded(resource string, capacity int) *SyncError {
	return NewSyncError(ErrCodeOverloaded, fmt.Sprintf("%s is full (capacity %d)", resource, capacity), nil).
		WithDetail("resource", resource).
		WithDetail("capacity", capacity)
}

func PeerUnreachable(peer string, cause error) *SyncError {
	return NewSyncError(ErrCodePeerUnreachable, fmt.Sprintf("peer %s unreachable", peer), cause).
		WithDetail("peer", peer)
}

// IsSyncError checks if an error is, or wraps, a SyncError
func IsSyncError(err error) bool {
	var se *SyncError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	var se *SyncError
	return stderrors.As(err, &se) && se.Code == code
}
