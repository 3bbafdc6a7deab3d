package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/headonpro/tabellen-service/internal/apperrors"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
	"github.com/headonpro/tabellen-service/internal/platform/resilience"
)

type Action string

const (
	ActionRetryWithBackoff Action = "RETRY_WITH_BACKOFF"
	ActionRollback         Action = "ROLLBACK"
	ActionFailFast         Action = "FAIL_FAST"
	ActionEscalate         Action = "ESCALATE"
)

// JobContext carries the queue-side facts the handler needs for a decision.
type JobContext struct {
	JobID      string
	LeagueID   int64
	SeasonID   int64
	Operation  string
	RetryCount int
	MaxRetries int
}

// Decision is the handler's verdict for one failure.
type Decision struct {
	Action             Action
	Classified         apperrors.ClassifiedError
	RestoredSnapshotID string
	Reason             string
}

// AlertEvent is an escalation notification for external channels.
type AlertEvent struct {
	Severity   apperrors.Severity `json:"severity"`
	Operation  string             `json:"operation"`
	JobID      string             `json:"job_id,omitempty"`
	LeagueID   int64              `json:"league_id,omitempty"`
	SeasonID   int64              `json:"season_id,omitempty"`
	Message    string             `json:"message"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// AlertNotifier is the sink escalation events are pushed into. The handler
// never depends on the transport behind it.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, AlertEvent) {}

func NewNoopNotifier() AlertNotifier {
	return noopNotifier{}
}

// ErrorHandlerService consumes classified errors and decides retry, rollback,
// fail-fast or escalation, guarding every operation with a circuit breaker.
type ErrorHandlerService struct {
	breakers  *resilience.Registry
	snapshots *SnapshotService
	notifier  AlertNotifier
	enabled   bool
	logger    *logging.Logger
	now       func() time.Time
}

func NewErrorHandlerService(
	breakers *resilience.Registry,
	snapshots *SnapshotService,
	notifier AlertNotifier,
	breakerEnabled bool,
	logger *logging.Logger,
) *ErrorHandlerService {
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &ErrorHandlerService{
		breakers:  breakers,
		snapshots: snapshots,
		notifier:  notifier,
		enabled:   breakerEnabled && breakers != nil,
		logger:    logger,
		now:       time.Now,
	}
}

// Allow gates an operation attempt on its circuit breaker.
func (s *ErrorHandlerService) Allow(operation string) error {
	if !s.enabled {
		return nil
	}
	return s.breakers.For(operation).Allow()
}

// RecordSuccess feeds a successful attempt back into the breaker.
func (s *ErrorHandlerService) RecordSuccess(operation string) {
	if s.enabled {
		s.breakers.For(operation).RecordSuccess()
	}
}

// ResetBreaker forces the named breaker closed.
func (s *ErrorHandlerService) ResetBreaker(operation string) {
	if s.enabled {
		s.breakers.Reset(operation)
	}
}

// BreakerSnapshots exposes the per-operation breaker states.
func (s *ErrorHandlerService) BreakerSnapshots() map[string]resilience.StateSnapshot {
	if !s.enabled {
		return map[string]resilience.StateSnapshot{}
	}
	return s.breakers.Snapshots()
}

// Handle classifies err and decides what the queue should do with the job.
// Escalation events for CRITICAL failures are emitted here; a rollback decision
// restores the latest snapshot of the pair before returning.
func (s *ErrorHandlerService) Handle(ctx context.Context, err error, jobCtx JobContext) Decision {
	ctx, span := startUsecaseSpan(ctx, "usecase.ErrorHandlerService.Handle")
	defer span.End()

	classified := apperrors.Classify(err).
		WithContext("job_id", jobCtx.JobID).
		WithContext("operation", jobCtx.Operation)

	// An attempt the breaker itself rejected is not an operation failure:
	// feeding it back would re-stamp the open window on every rejection (the
	// breaker would never reach half-open) and, in half-open, would discard
	// the accounting of a probe that is still in flight.
	breakerRejected := errors.Is(err, resilience.ErrCircuitOpen)
	if s.enabled && !breakerRejected {
		s.breakers.For(jobCtx.Operation).RecordFailure()
	}

	decision := Decision{Classified: classified}

	if classified.Severity == apperrors.SeverityCritical {
		s.escalate(ctx, classified, jobCtx)
	}

	switch {
	case classified.Type == apperrors.TypeCalculationError && classified.Code == apperrors.CodeDataInconsistency:
		decision.Action = ActionRollback
		decision.Reason = "data inconsistency detected, restoring latest snapshot"
		decision.RestoredSnapshotID = s.rollback(ctx, jobCtx)
	case breakerRejected || s.circuitOpen(jobCtx.Operation):
		decision.Action = ActionFailFast
		decision.Reason = "circuit breaker open for " + jobCtx.Operation
	case classified.Severity == apperrors.SeverityCritical:
		decision.Action = ActionEscalate
		decision.Reason = "critical severity"
	case classified.Retryable && jobCtx.RetryCount < jobCtx.MaxRetries:
		decision.Action = ActionRetryWithBackoff
		decision.Reason = "retryable failure within retry budget"
	case classified.Retryable:
		decision.Action = ActionFailFast
		decision.Reason = "retry budget exhausted"
	default:
		decision.Action = ActionFailFast
		decision.Reason = "non-retryable failure"
	}

	s.logger.WarnContext(ctx, "job failure handled",
		"job_id", jobCtx.JobID,
		"operation", jobCtx.Operation,
		"error_type", classified.Type,
		"severity", classified.Severity,
		"retryable", classified.Retryable,
		"action", decision.Action,
		"reason", decision.Reason,
	)
	return decision
}

func (s *ErrorHandlerService) circuitOpen(operation string) bool {
	if !s.enabled {
		return false
	}
	return s.breakers.For(operation).State() == resilience.CircuitStateOpen
}

func (s *ErrorHandlerService) rollback(ctx context.Context, jobCtx JobContext) string {
	if s.snapshots == nil {
		return ""
	}

	latest, ok, err := s.snapshots.Latest(ctx, jobCtx.LeagueID, jobCtx.SeasonID)
	if err != nil {
		s.logger.ErrorContext(ctx, "rollback lookup failed",
			"league_id", jobCtx.LeagueID, "season_id", jobCtx.SeasonID, "error", err)
		return ""
	}
	if !ok {
		s.logger.WarnContext(ctx, "rollback requested but no snapshot exists",
			"league_id", jobCtx.LeagueID, "season_id", jobCtx.SeasonID)
		return ""
	}

	result, err := s.snapshots.Restore(ctx, latest.Metadata.SnapshotID)
	if err != nil || !result.Success {
		s.logger.ErrorContext(ctx, "rollback restore failed",
			"snapshot_id", latest.Metadata.SnapshotID, "error", err, "result_errors", len(result.Errors))
		return ""
	}
	return latest.Metadata.SnapshotID
}

func (s *ErrorHandlerService) escalate(ctx context.Context, classified apperrors.ClassifiedError, jobCtx JobContext) {
	s.notifier.Notify(ctx, AlertEvent{
		Severity:   classified.Severity,
		Operation:  jobCtx.Operation,
		JobID:      jobCtx.JobID,
		LeagueID:   jobCtx.LeagueID,
		SeasonID:   jobCtx.SeasonID,
		Message:    classified.Error(),
		OccurredAt: s.now().UTC(),
	})
}
