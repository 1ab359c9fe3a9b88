// Package errs implements the structured error type shared across the
// database: a HybridError carrying a code, severity, recovery action,
// metadata map, and wrapped cause, plus the sentinel errors every
// public operation can return.
package errs

import (
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for each error kind the public API can surface.
// PartitionFull is deliberately unexported from the public surface —
// callers never see it, the partition layer retries/splits internally.
var (
	ErrNotFound             = newSentinel("not found")
	ErrDimensionMismatch    = newSentinel("vector dimension mismatch")
	ErrIntegrityCheckFailed = newSentinel("content integrity check failed")
	ErrCancelled            = newSentinel("operation cancelled")
	ErrThrottled            = newSentinel("operation throttled")
	ErrStorageUnavailable   = newSentinel("storage unavailable")
	ErrDuplicateID          = newSentinel("duplicate id")
	ErrInvalidConfiguration = newSentinel("invalid configuration")
	ErrCascadeRequired      = newSentinel("cascade required: incident edges exist")

	partitionFull = newSentinel("partition full")
)

type sentinel struct{ message string }

func (s *sentinel) Error() string { return s.message }

func newSentinel(message string) error { return &sentinel{message: message} }

// ErrPartitionFull is exported only within the module's internal tree so
// internal/partition can signal a split is needed; it must never cross
// the public API boundary.
var ErrPartitionFull = partitionFull

// Code enumerates the structured error kinds a HybridError can carry.
type Code int

const (
	CodeUnknown Code = iota
	CodeNotFound
	CodeDimensionMismatch
	CodeIntegrityCheckFailed
	CodeCancelled
	CodeThrottled
	CodeStorageUnavailable
	CodeDuplicateID
	CodeInvalidConfiguration
	CodeCascadeRequired
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeDimensionMismatch:
		return "DIMENSION_MISMATCH"
	case CodeIntegrityCheckFailed:
		return "INTEGRITY_CHECK_FAILED"
	case CodeCancelled:
		return "CANCELLED"
	case CodeThrottled:
		return "THROTTLED"
	case CodeStorageUnavailable:
		return "STORAGE_UNAVAILABLE"
	case CodeDuplicateID:
		return "DUPLICATE_ID"
	case CodeInvalidConfiguration:
		return "INVALID_CONFIGURATION"
	case CodeCascadeRequired:
		return "CASCADE_REQUIRED"
	default:
		return "UNKNOWN"
	}
}

// Severity mirrors an ErrorSeverity ladder.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// RecoveryAction mirrors a RecoveryAction ladder, trimmed to the actions
// this system actually takes.
type RecoveryAction int

const (
	RecoveryNone RecoveryAction = iota
	RecoveryRetry
	RecoveryGracefulDegradation
)

func (r RecoveryAction) String() string {
	switch r {
	case RecoveryRetry:
		return "RETRY"
	case RecoveryGracefulDegradation:
		return "GRACEFUL_DEGRADATION"
	default:
		return "NONE"
	}
}

// HybridError is the structured error type every public operation that
// fails for a spec-recognized reason returns.
type HybridError struct {
	Code           Code
	Message        string
	Severity       Severity
	RecoveryAction RecoveryAction
	Retryable      bool
	Metadata       map[string]interface{}
	Cause          error
	Timestamp      time.Time
}

func (e *HybridError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message))
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

// Unwrap makes HybridError compatible with errors.Is/errors.As against
// its Cause. New stores the sentinel as the Cause; WithCause replaces
// it, after which errors.Is no longer matches that sentinel.
func (e *HybridError) Unwrap() error { return e.Cause }

// New builds a HybridError for one of the package sentinels.
func New(code Code, sentinelErr error, message string) *HybridError {
	return &HybridError{
		Code:      code,
		Message:   message,
		Severity:  SeverityError,
		Cause:     sentinelErr,
		Timestamp: time.Now(),
	}
}

func (e *HybridError) WithSeverity(s Severity) *HybridError {
	e.Severity = s
	return e
}

func (e *HybridError) WithRecoveryAction(a RecoveryAction) *HybridError {
	e.RecoveryAction = a
	if a != RecoveryNone {
		e.Retryable = a == RecoveryRetry
	}
	return e
}

func (e *HybridError) WithMetadata(key string, value interface{}) *HybridError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func (e *HybridError) WithCause(cause error) *HybridError {
	e.Cause = cause
	return e
}

// NotFound wraps ErrNotFound with a descriptive message.
func NotFound(message string) *HybridError {
	return New(CodeNotFound, ErrNotFound, message)
}

// DimensionMismatch wraps ErrDimensionMismatch.
func DimensionMismatch(want, got int) *HybridError {
	return New(CodeDimensionMismatch, ErrDimensionMismatch,
		fmt.Sprintf("expected dimension %d, got %d", want, got))
}

// Throttled wraps ErrThrottled with the reason it fired.
func Throttled(reason string) *HybridError {
	return New(CodeThrottled, ErrThrottled, reason).WithRecoveryAction(RecoveryRetry)
}

// StorageUnavailable wraps ErrStorageUnavailable, retryable by default
// since the storage adapter's own circuit breaker already gates retries.
func StorageUnavailable(cause error) *HybridError {
	return New(CodeStorageUnavailable, ErrStorageUnavailable, "storage adapter unavailable").
		WithCause(cause).
		WithRecoveryAction(RecoveryRetry)
}
