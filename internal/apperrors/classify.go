package apperrors

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	crerr "github.com/cockroachdb/errors"
)

// New builds a ClassifiedError of an explicit type. Severity and retryability
// follow the taxonomy rules for that type and message.
func New(t ErrorType, code, message string) ClassifiedError {
	t = normalizeType(t)
	if code == "" {
		code = string(t)
	}
	return ClassifiedError{
		Type:      t,
		Code:      code,
		Severity:  severityFor(t, message),
		Retryable: retryableFor(t, message),
		Message:   message,
		cause:     crerr.NewWithDepth(1, message),
	}
}

// Wrap classifies err under an explicit type while keeping it as the cause.
func Wrap(err error, t ErrorType, code, message string) ClassifiedError {
	t = normalizeType(t)
	if code == "" {
		code = string(t)
	}
	if message == "" && err != nil {
		message = err.Error()
	}
	return ClassifiedError{
		Type:      t,
		Code:      code,
		Severity:  severityFor(t, message),
		Retryable: retryableFor(t, message),
		Message:   message,
		cause:     crerr.WrapWithDepth(1, err, message),
	}
}

// AsClassified extracts a ClassifiedError from err's chain.
func AsClassified(err error) (ClassifiedError, bool) {
	var classified ClassifiedError
	if stderrors.As(err, &classified) {
		return classified, true
	}
	return ClassifiedError{}, false
}

// Classify reduces any raw error to a ClassifiedError. Classification is
// deterministic and purely pattern based: the same raw error always yields the
// same result. An error that already carries a classification is returned
// unchanged.
func Classify(err error) ClassifiedError {
	if err == nil {
		return New(TypeUnknownError, "", "classify called with nil error")
	}
	if classified, ok := AsClassified(err); ok {
		return classified
	}

	t := typeFromPatterns(err)
	message := err.Error()
	return ClassifiedError{
		Type:      t,
		Code:      string(t),
		Severity:  severityFor(t, message),
		Retryable: retryableFor(t, message),
		Message:   message,
		cause:     err,
	}
}

func typeFromPatterns(err error) ErrorType {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return TypeTimeoutError
	}
	if stderrors.Is(err, context.Canceled) {
		return TypeJobCancelled
	}
	if stderrors.Is(err, sql.ErrTxDone) {
		return TypeTransactionError
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "connection refused", "connection reset", "broken pipe", "dial tcp", "connection_error", "no such host"):
		return TypeConnectionError
	case containsAny(lower, "deadlock"):
		return TypeDeadlock
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return TypeTimeoutError
	case containsAny(lower, "duplicate key", "unique constraint", "violates foreign key", "constraint"):
		return TypeConstraintViolation
	case containsAny(lower, "transaction is aborted", "could not serialize", "transaction"):
		return TypeTransactionError
	case containsAny(lower, "queue is full", "queue full"):
		return TypeQueueFull
	case containsAny(lower, "queue"):
		return TypeQueueError
	case containsAny(lower, "service unavailable", "temporarily unavailable", "circuit breaker"):
		return TypeServiceUnavailable
	case containsAny(lower, "network is unreachable", "network"):
		return TypeNetworkError
	case containsAny(lower, "unauthorized", "forbidden", "permission denied"):
		return TypePermissionDenied
	case containsAny(lower, "feature disabled", "feature is disabled"):
		return TypeFeatureDisabled
	case containsAny(lower, "configuration", "config "):
		return TypeConfigurationError
	case containsAny(lower, "out of memory", "cannot allocate"):
		return TypeMemoryError
	case containsAny(lower, "too many", "resource exhausted", "limit exceeded"):
		return TypeResourceExhausted
	case containsAny(lower, "inconsisten"):
		return TypeDataInconsistency
	case containsAny(lower, "validation_error", "validation failed", "not valid"):
		return TypeValidationError
	case containsAny(lower, "invalid", "malformed"):
		return TypeInvalidInput
	case containsAny(lower, "business rule"):
		return TypeBusinessRuleViolation
	case containsAny(lower, "sql", "database", "pq:", "relation", "column"):
		return TypeDatabaseError
	default:
		return TypeUnknownError
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
