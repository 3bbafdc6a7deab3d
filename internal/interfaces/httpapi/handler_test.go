package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/headonpro/tabellen-service/internal/domain/club"
	"github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/infrastructure/repository/memory"
	"github.com/headonpro/tabellen-service/internal/infrastructure/snapshotfile"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
	"github.com/headonpro/tabellen-service/internal/platform/resilience"
	"github.com/headonpro/tabellen-service/internal/usecase"
)

const testToken = "test-token"

func goals(n int) *int { return &n }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	clubs := []club.Club{
		{ID: 1, Name: "FC Eichel", Active: true},
		{ID: 2, Name: "TSV Kreuzwertheim", Active: true},
	}
	games := []game.Game{{
		ID: "g1", LeagueID: 1, SeasonID: 1, Matchday: 1,
		Date:       time.Date(2025, 8, 9, 15, 30, 0, 0, time.UTC),
		HomeClubID: 1, AwayClubID: 2,
		HomeGoals: goals(3), AwayGoals: goals(1),
		Status: game.StatusFinished,
	}}

	gameRepo := memory.NewGameRepository(games)
	clubRepo := memory.NewClubRepository(clubs)
	entryRepo := memory.NewTableEntryRepository(gameRepo, clubRepo)
	calc := usecase.NewCalculationService(entryRepo, nil, usecase.CalculationConfig{}, logging.NewNop())

	files, err := snapshotfile.NewStore(snapshotfile.Config{Dir: t.TempDir(), ChecksumEnabled: true}, logging.NewNop())
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	snapshots := usecase.NewSnapshotService(entryRepo, files, usecase.SnapshotConfig{}, logging.NewNop())

	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{Enabled: true, FailureThreshold: 5, OpenTimeout: time.Minute, HalfOpenMaxReq: 1})
	errorHandler := usecase.NewErrorHandlerService(breakers, snapshots, usecase.NewNoopNotifier(), true, logging.NewNop())

	queue := usecase.NewQueueService(calc, errorHandler, nil, usecase.QueueConfig{
		Concurrency:          1,
		MaxRetries:           1,
		RetryDelay:           time.Millisecond,
		AutomaticCalculation: true,
	}, logging.NewNop())
	if err := queue.Start(); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	t.Cleanup(queue.Stop)

	fallback := usecase.NewFallbackService(nil, snapshots, entryRepo, queue, nil, usecase.FallbackConfig{}, logging.NewNop())
	ingestion := usecase.NewIngestionService(gameRepo, clubRepo, queue, logging.NewNop())
	handler := NewHandler(queue, snapshots, fallback, ingestion, errorHandler, nil, logging.NewNop())
	return NewRouter(handler, testToken, logging.NewNop())
}

func TestEnqueueEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	request := httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/table-calculation",
		strings.NewReader(`{"league_id": 1, "season_id": 1, "trigger": "GAME_RESULT"}`))
	request.Header.Set("X-Internal-Job-Token", testToken)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	var envelope struct {
		Data struct {
			JobID string `json:"job_id"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(envelope.Data.JobID, "job_") {
		t.Fatalf("job id = %q", envelope.Data.JobID)
	}
}

func TestEnqueueEndpoint_RejectsMissingToken(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	request := httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/table-calculation",
		strings.NewReader(`{"league_id": 1, "season_id": 1}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestEnqueueEndpoint_ValidatesBody(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	request := httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/table-calculation",
		strings.NewReader(`{"league_id": 0, "season_id": 1}`))
	request.Header.Set("X-Internal-Job-Token", testToken)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestQueueStatusEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	request := httptest.NewRequest(http.MethodGet, "/v1/queue/status", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"running":true`) {
		t.Fatalf("body = %s", recorder.Body.String())
	}
}

func TestUnknownJobReturns404(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	request := httptest.NewRequest(http.MethodGet, "/v1/queue/jobs/job_missing", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}
