package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/headonpro/tabellen-service/internal/apperrors"
	"github.com/headonpro/tabellen-service/internal/domain/club"
	"github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/infrastructure/repository/memory"
	"github.com/headonpro/tabellen-service/internal/infrastructure/snapshotfile"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
	"github.com/headonpro/tabellen-service/internal/platform/resilience"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []AlertEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event AlertEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) all() []AlertEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]AlertEvent, len(n.events))
	copy(out, n.events)
	return out
}

func newHandlerFixture(threshold int) (*ErrorHandlerService, *recordingNotifier) {
	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: threshold,
		OpenTimeout:      time.Hour,
		HalfOpenMaxReq:   1,
	})
	notifier := &recordingNotifier{}
	handler := NewErrorHandlerService(breakers, nil, notifier, true, logging.NewNop())
	return handler, notifier
}

func jobCtx() JobContext {
	return JobContext{
		JobID:      "job_test",
		LeagueID:   1,
		SeasonID:   1,
		Operation:  OperationTableCalculation,
		RetryCount: 0,
		MaxRetries: 3,
	}
}

func TestHandle_RetryableWithinBudget(t *testing.T) {
	t.Parallel()

	handler, _ := newHandlerFixture(100)
	decision := handler.Handle(context.Background(), crerr.New("dial tcp: connection refused"), jobCtx())

	if decision.Action != ActionRetryWithBackoff {
		t.Fatalf("action = %s, want RETRY_WITH_BACKOFF", decision.Action)
	}
	if decision.Classified.Type != apperrors.TypeConnectionError {
		t.Fatalf("type = %s", decision.Classified.Type)
	}
}

func TestHandle_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	handler, _ := newHandlerFixture(100)
	ctx := jobCtx()
	ctx.RetryCount = 3

	decision := handler.Handle(context.Background(), crerr.New("dial tcp: connection refused"), ctx)
	if decision.Action != ActionFailFast {
		t.Fatalf("action = %s, want FAIL_FAST", decision.Action)
	}
}

func TestHandle_NonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	handler, _ := newHandlerFixture(100)
	decision := handler.Handle(context.Background(), crerr.New("invalid season id"), jobCtx())

	if decision.Action != ActionFailFast {
		t.Fatalf("action = %s, want FAIL_FAST", decision.Action)
	}
	if decision.Classified.Retryable {
		t.Fatal("invalid input must not be retryable")
	}
}

func TestHandle_CriticalEscalates(t *testing.T) {
	t.Parallel()

	handler, notifier := newHandlerFixture(100)
	decision := handler.Handle(context.Background(), crerr.New("pq: relation \"table_entries\" does not exist"), jobCtx())

	if decision.Action != ActionEscalate {
		t.Fatalf("action = %s, want ESCALATE", decision.Action)
	}

	events := notifier.all()
	if len(events) != 1 {
		t.Fatalf("escalation events = %d, want 1", len(events))
	}
	if events[0].Severity != apperrors.SeverityCritical {
		t.Fatalf("event severity = %s", events[0].Severity)
	}
	if events[0].Operation != OperationTableCalculation {
		t.Fatalf("event operation = %s", events[0].Operation)
	}
}

func TestHandle_BreakerOpensAfterThresholdAndShortCircuits(t *testing.T) {
	t.Parallel()

	handler, _ := newHandlerFixture(3)

	for i := 0; i < 3; i++ {
		if err := handler.Allow(OperationTableCalculation); err != nil {
			t.Fatalf("allow before threshold (attempt %d): %v", i, err)
		}
		handler.Handle(context.Background(), crerr.New("dial tcp: connection refused"), jobCtx())
	}

	if err := handler.Allow(OperationTableCalculation); err == nil {
		t.Fatal("breaker must short-circuit after threshold failures")
	}

	decision := handler.Handle(context.Background(), crerr.New("dial tcp: connection refused"), jobCtx())
	if decision.Action != ActionFailFast {
		t.Fatalf("action with open breaker = %s, want FAIL_FAST", decision.Action)
	}

	handler.ResetBreaker(OperationTableCalculation)
	if err := handler.Allow(OperationTableCalculation); err != nil {
		t.Fatalf("allow after reset: %v", err)
	}
}

func TestHandle_DataInconsistencyRollsBackFromSnapshot(t *testing.T) {
	t.Parallel()

	clubs := []club.Club{
		{ID: 1, Name: "FC Eichel", Active: true},
		{ID: 2, Name: "TSV Kreuzwertheim", Active: true},
	}
	gameRepo := memory.NewGameRepository([]game.Game{finishedGame("g1", 1, 1, 2, 3, 1)})
	clubRepo := memory.NewClubRepository(clubs)
	entryRepo := memory.NewTableEntryRepository(gameRepo, clubRepo)
	calc := NewCalculationService(entryRepo, nil, CalculationConfig{}, logging.NewNop())

	files, err := snapshotfile.NewStore(snapshotfile.Config{Dir: t.TempDir(), ChecksumEnabled: true}, logging.NewNop())
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	snapshots := NewSnapshotService(entryRepo, files, SnapshotConfig{}, logging.NewNop())

	ctx := context.Background()
	if _, err := calc.Recalculate(ctx, 1, 1); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if _, err := snapshots.Create(ctx, 1, 1, "known good"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// corrupt the live table
	if err := entryRepo.ReplaceBySeason(ctx, 1, 1, nil); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	handler := NewErrorHandlerService(nil, snapshots, NewNoopNotifier(), false, logging.NewNop())
	inconsistency := apperrors.New(apperrors.TypeCalculationError, apperrors.CodeDataInconsistency, "ranks out of order")

	decision := handler.Handle(ctx, inconsistency, jobCtx())
	if decision.Action != ActionRollback {
		t.Fatalf("action = %s, want ROLLBACK", decision.Action)
	}
	if decision.RestoredSnapshotID == "" {
		t.Fatal("rollback did not record the restored snapshot")
	}

	restored, _ := entryRepo.ListBySeason(ctx, 1, 1)
	if len(restored) != 2 {
		t.Fatalf("table not restored: %d entries", len(restored))
	}
}

func TestHandle_BreakerRejectionDoesNotExtendOpenWindow(t *testing.T) {
	t.Parallel()

	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
		HalfOpenMaxReq:   1,
	})
	handler := NewErrorHandlerService(breakers, nil, NewNoopNotifier(), true, logging.NewNop())

	handler.Handle(context.Background(), crerr.New("dial tcp: connection refused"), jobCtx())
	if err := handler.Allow(OperationTableCalculation); err == nil {
		t.Fatal("breaker should be open after the threshold failure")
	}

	// sustained traffic keeps hitting the open breaker; each rejection is
	// handled but must not restart the open window
	deadline := time.Now().Add(2 * time.Second)
	probeAdmitted := false
	for time.Now().Before(deadline) {
		err := handler.Allow(OperationTableCalculation)
		if err == nil {
			probeAdmitted = true
			break
		}
		decision := handler.Handle(context.Background(), err, jobCtx())
		if decision.Action != ActionFailFast {
			t.Fatalf("rejected attempt decision = %s, want FAIL_FAST", decision.Action)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !probeAdmitted {
		t.Fatal("no probe admitted after the open window elapsed")
	}

	handler.RecordSuccess(OperationTableCalculation)
	if err := handler.Allow(OperationTableCalculation); err != nil {
		t.Fatalf("breaker should be closed after a successful probe: %v", err)
	}
}

func TestHandle_BreakerRejectionKeepsInFlightProbe(t *testing.T) {
	t.Parallel()

	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		OpenTimeout:      20 * time.Millisecond,
		HalfOpenMaxReq:   1,
	})
	handler := NewErrorHandlerService(breakers, nil, NewNoopNotifier(), true, logging.NewNop())

	handler.Handle(context.Background(), crerr.New("dial tcp: connection refused"), jobCtx())
	time.Sleep(30 * time.Millisecond)

	// the single half-open probe slot is taken
	if err := handler.Allow(OperationTableCalculation); err != nil {
		t.Fatalf("probe should be admitted after the open window: %v", err)
	}

	// a concurrent attempt is rejected; handling that rejection must not
	// reopen the breaker and lose the probe's accounting
	rejection := handler.Allow(OperationTableCalculation)
	if rejection == nil {
		t.Fatal("second concurrent probe must be rejected")
	}
	handler.Handle(context.Background(), rejection, jobCtx())

	handler.RecordSuccess(OperationTableCalculation)
	if err := handler.Allow(OperationTableCalculation); err != nil {
		t.Fatalf("breaker should be closed after the probe succeeded: %v", err)
	}
}
