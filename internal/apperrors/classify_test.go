package apperrors

import (
	"context"
	"fmt"
	"testing"

	crerr "github.com/cockroachdb/errors"
)

func TestClassify_PatternTypes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"connection refused", crerr.New("dial tcp 127.0.0.1:5432: connection refused"), TypeConnectionError},
		{"deadlock", crerr.New("pq: deadlock detected"), TypeDeadlock},
		{"timeout", crerr.New("query timed out after 5s"), TypeTimeoutError},
		{"deadline", context.DeadlineExceeded, TypeTimeoutError},
		{"cancelled", context.Canceled, TypeJobCancelled},
		{"constraint", crerr.New("pq: duplicate key value violates unique constraint"), TypeConstraintViolation},
		{"queue full", crerr.New("queue is full"), TypeQueueFull},
		{"unavailable", crerr.New("service unavailable"), TypeServiceUnavailable},
		{"permission", crerr.New("request was forbidden"), TypePermissionDenied},
		{"validation", crerr.New("validation failed for entry"), TypeValidationError},
		{"invalid", crerr.New("invalid season id"), TypeInvalidInput},
		{"database", crerr.New("pq: relation \"table_entries\" does not exist"), TypeDatabaseError},
		{"unknown", crerr.New("boom"), TypeUnknownError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tc.err).Type; got != tc.want {
				t.Fatalf("Classify(%q).Type = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	err := crerr.New("pq: deadlock detected")
	first := Classify(err)
	second := Classify(err)
	if first.Type != second.Type || first.Severity != second.Severity || first.Retryable != second.Retryable {
		t.Fatalf("classification not deterministic: %+v vs %+v", first, second)
	}
}

func TestClassify_SeverityRules(t *testing.T) {
	t.Parallel()

	if got := New(TypeSystemError, "", "subsystem down").Severity; got != SeverityCritical {
		t.Fatalf("SYSTEM_ERROR severity = %s, want CRITICAL", got)
	}
	if got := New(TypeCalculationError, "", "points off").Severity; got != SeverityHigh {
		t.Fatalf("CALCULATION_ERROR severity = %s, want HIGH", got)
	}
	if got := New(TypeDeadlock, "", "deadlock detected").Severity; got != SeverityMedium {
		t.Fatalf("DEADLOCK severity = %s, want MEDIUM", got)
	}

	// message markers override the type default
	if got := New(TypeNetworkError, "", "fatal: route flapped").Severity; got != SeverityCritical {
		t.Fatalf("fatal marker severity = %s, want CRITICAL", got)
	}
	if got := New(TypeNetworkError, "", "warning: slow link").Severity; got != SeverityLow {
		t.Fatalf("warning marker severity = %s, want LOW", got)
	}
}

func TestClassify_RetryabilityRules(t *testing.T) {
	t.Parallel()

	retryable := []ErrorType{TypeTimeoutError, TypeNetworkError, TypeConnectionError, TypeDeadlock, TypeQueueError, TypeServiceUnavailable}
	for _, typ := range retryable {
		if !New(typ, "", "transient hiccup").Retryable {
			t.Fatalf("%s should be retryable", typ)
		}
	}

	nonRetryable := []ErrorType{TypeValidationError, TypeInvalidInput, TypeBusinessRuleViolation, TypeConstraintViolation, TypePermissionDenied, TypeConfigurationError}
	for _, typ := range nonRetryable {
		if New(typ, "", "rejected").Retryable {
			t.Fatalf("%s should not be retryable", typ)
		}
	}

	// message markers force non-retryable even for a retryable type
	if New(TypeConnectionError, "", "invalid handshake").Retryable {
		t.Fatal("invalid marker should force non-retryable")
	}
}

func TestClassify_PreservesExistingClassification(t *testing.T) {
	t.Parallel()

	original := New(TypeCalculationError, CodeDataInconsistency, "club missing from games")
	wrapped := fmt.Errorf("run job: %w", original)

	got := Classify(wrapped)
	if got.Type != TypeCalculationError || got.Code != CodeDataInconsistency {
		t.Fatalf("wrapped classification lost: %+v", got)
	}
}

func TestClassifiedError_WithContext(t *testing.T) {
	t.Parallel()

	base := New(TypeQueueError, "", "dispatch failed")
	enriched := base.WithContext("league_id", int64(5))
	if base.Context != nil {
		t.Fatal("WithContext must not mutate the receiver")
	}
	if enriched.Context["league_id"] != int64(5) {
		t.Fatalf("context not attached: %+v", enriched.Context)
	}
}
