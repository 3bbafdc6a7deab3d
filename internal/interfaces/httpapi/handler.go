package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/headonpro/tabellen-service/internal/config"
	"github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
	"github.com/headonpro/tabellen-service/internal/usecase"
)

type Handler struct {
	queue     *usecase.QueueService
	snapshots *usecase.SnapshotService
	fallback  *usecase.FallbackService
	ingestion *usecase.IngestionService
	errors    *usecase.ErrorHandlerService
	features  *config.FeatureGate
	logger    *logging.Logger
	validator *validator.Validate
}

func NewHandler(
	queue *usecase.QueueService,
	snapshots *usecase.SnapshotService,
	fallback *usecase.FallbackService,
	ingestion *usecase.IngestionService,
	errorHandler *usecase.ErrorHandlerService,
	features *config.FeatureGate,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		queue:     queue,
		snapshots: snapshots,
		fallback:  fallback,
		ingestion: ingestion,
		errors:    errorHandler,
		features:  features,
		logger:    logger,
		validator: validator.New(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enqueueRequest struct {
	LeagueID    int64  `json:"league_id" validate:"gt=0"`
	SeasonID    int64  `json:"season_id" validate:"gt=0"`
	Priority    string `json:"priority" validate:"omitempty,oneof=HIGH NORMAL LOW"`
	Trigger     string `json:"trigger" validate:"omitempty,oneof=GAME_RESULT MANUAL SCHEDULED"`
	Description string `json:"description" validate:"omitempty,max=200"`
}

func (h *Handler) EnqueueCalculation(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, fmt.Errorf("%w: %s", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(r.Context(), w, fmt.Errorf("%w: %s", usecase.ErrInvalidInput, err))
		return
	}

	jobID, err := h.queue.EnqueueCalculation(r.Context(), req.LeagueID, req.SeasonID, usecase.EnqueueOptions{
		Priority:    req.Priority,
		Trigger:     req.Trigger,
		Description: req.Description,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.queue.GetStatus(r.Context()))
}

func (h *Handler) QueueMetrics(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.queue.GetMetrics(r.Context()))
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	item, ok := h.queue.GetJob(r.Context(), id)
	if !ok {
		writeError(r.Context(), w, fmt.Errorf("%w: job=%s", usecase.ErrNotFound, id))
		return
	}
	writeSuccess(w, http.StatusOK, item)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	leagueID, err := queryInt64(r, "league_id")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, fmt.Errorf("%w: limit must be a positive integer", usecase.ErrInvalidInput))
			return
		}
		limit = parsed
	}

	writeSuccess(w, http.StatusOK, h.queue.GetHistory(r.Context(), leagueID, limit))
}

func (h *Handler) DeadLetter(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.queue.GetDeadLetter(r.Context()))
}

func (h *Handler) ReprocessDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	jobID, err := h.queue.ReprocessDeadLetter(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *Handler) ClearDeadLetter(w http.ResponseWriter, r *http.Request) {
	removed := h.queue.ClearDeadLetter(r.Context())
	writeSuccess(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) RetryFailedJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	jobID, err := h.queue.RetryFailedJob(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	h.queue.Pause()
	writeSuccess(w, http.StatusOK, h.queue.GetStatus(r.Context()))
}

func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.queue.Resume()
	writeSuccess(w, http.StatusOK, h.queue.GetStatus(r.Context()))
}

func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	discarded := h.queue.Clear()
	writeSuccess(w, http.StatusOK, map[string]int{"discarded": discarded})
}

func (h *Handler) Breakers(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.errors.BreakerSnapshots())
}

func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	operation := strings.TrimSpace(r.PathValue("operation"))
	if operation == "" {
		writeError(r.Context(), w, fmt.Errorf("%w: operation is required", usecase.ErrInvalidInput))
		return
	}
	h.errors.ResetBreaker(operation)
	writeSuccess(w, http.StatusOK, map[string]string{"operation": operation, "state": "closed"})
}

type createSnapshotRequest struct {
	LeagueID    int64  `json:"league_id" validate:"gt=0"`
	SeasonID    int64  `json:"season_id" validate:"gt=0"`
	Description string `json:"description" validate:"omitempty,max=200"`
}

func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, fmt.Errorf("%w: %s", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(r.Context(), w, fmt.Errorf("%w: %s", usecase.ErrInvalidInput, err))
		return
	}
	if h.features != nil && !h.features.Current().SnapshotCreation {
		writeError(r.Context(), w, fmt.Errorf("%w: snapshot creation", usecase.ErrFeatureDisabled))
		return
	}

	id, err := h.snapshots.Create(r.Context(), req.LeagueID, req.SeasonID, req.Description)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]string{"snapshot_id": id})
}

func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	leagueID, err := queryInt64(r, "league_id")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	seasonID, err := queryInt64(r, "season_id")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	items, err := h.snapshots.List(r.Context(), leagueID, seasonID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	metas := make([]any, 0, len(items))
	for _, item := range items {
		metas = append(metas, map[string]any{
			"metadata":   item.Metadata,
			"entries":    len(item.Entries),
			"checksum":   item.Checksum,
			"size_bytes": item.SizeBytes,
		})
	}
	writeSuccess(w, http.StatusOK, metas)
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	snap, err := h.snapshots.Get(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"metadata": snap.Metadata,
		"entries":  snap.Entries,
		"checksum": snap.Checksum,
	})
}

func (h *Handler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	result, err := h.snapshots.Restore(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeSuccess(w, status, result)
}

func (h *Handler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := h.snapshots.Delete(r.Context(), id); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"snapshot_id": id, "status": "deleted"})
}

// Table serves the current standings through the fallback ladder, so reads
// degrade instead of failing.
func (h *Handler) Table(w http.ResponseWriter, r *http.Request) {
	leagueID, err := queryInt64(r, "league_id")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	seasonID, err := queryInt64(r, "season_id")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeSuccess(w, http.StatusOK, h.fallback.TableAfterValidationFailure(r.Context(), leagueID, seasonID))
}

type gameResultPayload struct {
	GameID    string `json:"game_id" validate:"required"`
	LeagueID  int64  `json:"league_id" validate:"gt=0"`
	SeasonID  int64  `json:"season_id" validate:"gt=0"`
	Matchday  int    `json:"matchday" validate:"gte=1,lte=34"`
	Date      string `json:"date" validate:"omitempty"`
	HomeClub  int64  `json:"home_club_id" validate:"gt=0"`
	AwayClub  int64  `json:"away_club_id" validate:"gt=0"`
	HomeGoals *int   `json:"home_goals" validate:"omitempty,gte=0"`
	AwayGoals *int   `json:"away_goals" validate:"omitempty,gte=0"`
	Status    string `json:"status" validate:"omitempty,oneof=SCHEDULED FINISHED CANCELLED POSTPONED"`
}

type upsertGamesRequest struct {
	Games []gameResultPayload `json:"games" validate:"required,min=1,dive"`
}

// UpsertGames ingests game results and schedules the affected recalculations.
func (h *Handler) UpsertGames(w http.ResponseWriter, r *http.Request) {
	var req upsertGamesRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, fmt.Errorf("%w: %s", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(r.Context(), w, fmt.Errorf("%w: %s", usecase.ErrInvalidInput, err))
		return
	}

	items := make([]game.Game, 0, len(req.Games))
	for _, payload := range req.Games {
		item := game.Game{
			ID:         payload.GameID,
			LeagueID:   payload.LeagueID,
			SeasonID:   payload.SeasonID,
			Matchday:   payload.Matchday,
			HomeClubID: payload.HomeClub,
			AwayClubID: payload.AwayClub,
			HomeGoals:  payload.HomeGoals,
			AwayGoals:  payload.AwayGoals,
			Status:     game.NormalizeStatus(payload.Status),
		}
		if payload.Date != "" {
			parsed, err := time.Parse(time.RFC3339, payload.Date)
			if err != nil {
				writeError(r.Context(), w, fmt.Errorf("%w: game %s has an invalid date", usecase.ErrInvalidInput, payload.GameID))
				return
			}
			item.Date = parsed
		}
		items = append(items, item)
	}

	result, err := h.ingestion.UpsertResults(r.Context(), items)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, result)
}

func queryInt64(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", usecase.ErrInvalidInput, key)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", usecase.ErrInvalidInput, key)
	}
	return value, nil
}
